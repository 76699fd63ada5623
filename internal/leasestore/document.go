package leasestore

import (
	"encoding/json"
	"time"

	"mvlease/internal/status"
)

// Persisted field names.
const (
	FieldID                           = "_id"
	FieldSchemaVersion                = "schemaVersion"
	FieldHostname                     = "hostname"
	FieldCollectionUUID               = "collectionUuid"
	FieldLastObservedCollectionName   = "lastObservedCollectionName"
	FieldLastUpdated                  = "lastUpdated"
	FieldLeaseVersion                 = "leaseVersion"
	FieldCommitInfo                   = "commitInfo"
	FieldIndexDefinitionVersionStatus = "indexDefinitionVersionStatusMap"
	FieldLatestIndexDefinitionVersion = "latestIndexDefinitionVersion"
)

// VersionStatus is the persisted status of one index definition version.
type VersionStatus struct {
	IsQueryable bool        `json:"isQueryable"`
	StatusCode  status.Code `json:"statusCode"`
}

// Document is the persisted form of a lease, one per index.
type Document struct {
	ID                              string                   `json:"_id"`
	SchemaVersion                   int64                    `json:"schemaVersion"`
	Hostname                        string                   `json:"hostname"`
	CollectionUUID                  string                   `json:"collectionUuid"`
	LastObservedCollectionName      string                   `json:"lastObservedCollectionName"`
	LastUpdated                     time.Time                `json:"lastUpdated"`
	LeaseVersion                    int64                    `json:"leaseVersion"`
	CommitInfo                      string                   `json:"commitInfo"`
	IndexDefinitionVersionStatusMap map[string]VersionStatus `json:"indexDefinitionVersionStatusMap"`
	LatestIndexDefinitionVersion    string                   `json:"latestIndexDefinitionVersion"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	if d.IndexDefinitionVersionStatusMap != nil {
		out.IndexDefinitionVersionStatusMap = make(map[string]VersionStatus, len(d.IndexDefinitionVersionStatusMap))
		for k, v := range d.IndexDefinitionVersionStatusMap {
			out.IndexDefinitionVersionStatusMap[k] = v
		}
	}
	return out
}

// Field returns the value of a top-level scalar field for filter evaluation.
func (d Document) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return d.ID, true
	case FieldSchemaVersion:
		return d.SchemaVersion, true
	case FieldHostname:
		return d.Hostname, true
	case FieldCollectionUUID:
		return d.CollectionUUID, true
	case FieldLastObservedCollectionName:
		return d.LastObservedCollectionName, true
	case FieldLeaseVersion:
		return d.LeaseVersion, true
	case FieldCommitInfo:
		return d.CommitInfo, true
	case FieldLatestIndexDefinitionVersion:
		return d.LatestIndexDefinitionVersion, true
	default:
		return nil, false
	}
}

// Marshal encodes a document for storage.
func Marshal(d Document) ([]byte, error) {
	return json.Marshal(d)
}

// Unmarshal decodes a stored document.
func Unmarshal(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, err
	}
	return d, nil
}

// Package lease tracks the replication state of materialized views: the persisted Lease
// record, the status resolution rule and the static-leader Manager that owns both.
package lease

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"mvlease/internal/index"
	"mvlease/internal/leasestore"
	"mvlease/internal/status"
)

const (
	// FirstLeaseVersion marks a lease that has never been persisted.
	FirstLeaseVersion int64 = 0
	// SchemaVersion is the document schema written by this package.
	SchemaVersion int64 = 1
)

// Checkpoint is an opaque replication checkpoint.
type Checkpoint string

// EmptyCheckpoint is reported when no lease document exists.
const EmptyCheckpoint Checkpoint = ""

// VersionStatus is the status of one index definition version.
type VersionStatus = leasestore.VersionStatus

// VersionStatusOf derives the tracked status from an index status.
func VersionStatusOf(st status.IndexStatus) VersionStatus {
	return VersionStatus{IsQueryable: st.CanServiceQueries(), StatusCode: st.Code}
}

// UnknownVersionStatus is used when a version cannot be found.
var UnknownVersionStatus = VersionStatus{IsQueryable: false, StatusCode: status.Unknown}

// clock stamps LastUpdated; millisecond precision survives every backend.
var clock = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Lease is the replication state of one index, shared by all of its generations. Leases
// are values: the With methods return modified copies and never touch the receiver.
type Lease struct {
	ID                         string
	SchemaVersion              int64
	Hostname                   string
	CollectionUUID             string
	LastObservedCollectionName string
	LastUpdated                time.Time
	LeaseVersion               int64
	CommitInfo                 Checkpoint
	Versions                   map[string]VersionStatus
	LatestVersion              string
}

// LeaseKey is the lease id for a generation. All generations of an index share one lease.
func LeaseKey(id index.GenerationID) string {
	return id.IndexID.Hex()
}

func NewLease(id, collectionUUID, collectionName, hostname, versionKey string, st status.IndexStatus) Lease {
	return Lease{
		ID:                         id,
		SchemaVersion:              SchemaVersion,
		Hostname:                   hostname,
		CollectionUUID:             collectionUUID,
		LastObservedCollectionName: collectionName,
		LastUpdated:                clock(),
		LeaseVersion:               FirstLeaseVersion,
		CommitInfo:                 EmptyCheckpoint,
		Versions:                   map[string]VersionStatus{versionKey: VersionStatusOf(st)},
		LatestVersion:              versionKey,
	}
}

// newLeaseFor builds the initial lease for a generation.
func newLeaseFor(ig index.IndexGeneration, hostname string) Lease {
	return NewLease(
		LeaseKey(ig.GenerationID),
		ig.Definition.CollectionUUID.String(),
		ig.Definition.LastObservedCollectionName,
		hostname,
		ig.Definition.VersionKey(),
		ig.Status,
	)
}

func (l Lease) Clone() Lease {
	out := l
	out.Versions = maps.Clone(l.Versions)
	return out
}

// HasVersion reports whether versionKey is tracked.
func (l Lease) HasVersion(versionKey string) bool {
	_, ok := l.Versions[versionKey]
	return ok
}

// WithNewIndexDefinitionVersion tracks versionKey and makes it the latest version. A key
// that is already tracked leaves the lease unchanged. The lease version does not move.
func (l Lease) WithNewIndexDefinitionVersion(versionKey string, st status.IndexStatus) Lease {
	out := l.Clone()
	if l.HasVersion(versionKey) {
		return out
	}
	out.Versions[versionKey] = VersionStatusOf(st)
	out.LatestVersion = versionKey
	out.LastUpdated = clock()
	return out
}

// WithUpdatedCheckpoint replaces the checkpoint and bumps the lease version.
func (l Lease) WithUpdatedCheckpoint(commitInfo Checkpoint) Lease {
	out := l.Clone()
	out.CommitInfo = commitInfo
	out.LeaseVersion++
	out.LastUpdated = clock()
	return out
}

// WithUpdatedStatus replaces the status of versionKey and bumps the lease version.
func (l Lease) WithUpdatedStatus(st status.IndexStatus, versionKey string) Lease {
	out := l.Clone()
	if out.Versions == nil {
		out.Versions = make(map[string]VersionStatus, 1)
	}
	out.Versions[versionKey] = VersionStatusOf(st)
	out.LeaseVersion++
	out.LastUpdated = clock()
	return out
}

// statuses returns the status of versionKey and of the latest version, substituting
// UnknownVersionStatus for either one that is missing.
func (l Lease) statuses(versionKey string) (requested, latest VersionStatus, found bool) {
	requested, found = l.Versions[versionKey]
	if !found {
		requested = UnknownVersionStatus
	}
	latest, ok := l.Versions[l.LatestVersion]
	if !ok {
		latest = UnknownVersionStatus
	}
	return requested, latest, found
}

// ResolveFor resolves the externally reported status of versionKey against the latest
// version. found is false when the lease does not track versionKey.
func (l Lease) ResolveFor(versionKey string) (st status.IndexStatus, found bool) {
	requested, latest, found := l.statuses(versionKey)
	return ResolveStatus(requested, latest), found
}

func (l Lease) ToDocument() leasestore.Document {
	return leasestore.Document{
		ID:                              l.ID,
		SchemaVersion:                   l.SchemaVersion,
		Hostname:                        l.Hostname,
		CollectionUUID:                  l.CollectionUUID,
		LastObservedCollectionName:      l.LastObservedCollectionName,
		LastUpdated:                     l.LastUpdated,
		LeaseVersion:                    l.LeaseVersion,
		CommitInfo:                      string(l.CommitInfo),
		IndexDefinitionVersionStatusMap: maps.Clone(l.Versions),
		LatestIndexDefinitionVersion:    l.LatestVersion,
	}
}

// FromDocument validates a stored document and converts it to a Lease.
func FromDocument(doc leasestore.Document) (Lease, error) {
	if doc.ID == "" {
		return Lease{}, fmt.Errorf("%w: lease without %s", leasestore.ErrInvalidDocument, leasestore.FieldID)
	}
	if len(doc.IndexDefinitionVersionStatusMap) == 0 {
		return Lease{}, fmt.Errorf("%w: lease %s has no index definition versions", leasestore.ErrInvalidDocument, doc.ID)
	}
	if _, ok := doc.IndexDefinitionVersionStatusMap[doc.LatestIndexDefinitionVersion]; !ok {
		return Lease{}, fmt.Errorf("%w: lease %s latest version %q is not tracked",
			leasestore.ErrInvalidDocument, doc.ID, doc.LatestIndexDefinitionVersion)
	}
	return Lease{
		ID:                         doc.ID,
		SchemaVersion:              doc.SchemaVersion,
		Hostname:                   doc.Hostname,
		CollectionUUID:             doc.CollectionUUID,
		LastObservedCollectionName: doc.LastObservedCollectionName,
		LastUpdated:                doc.LastUpdated,
		LeaseVersion:               doc.LeaseVersion,
		CommitInfo:                 Checkpoint(doc.CommitInfo),
		Versions:                   maps.Clone(doc.IndexDefinitionVersionStatusMap),
		LatestVersion:              doc.LatestIndexDefinitionVersion,
	}, nil
}

func (l Lease) String() string {
	keys := maps.Keys(l.Versions)
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := l.Versions[k]
		parts = append(parts, fmt.Sprintf("%s:%s/q=%t", k, v.StatusCode, v.IsQueryable))
	}
	return fmt.Sprintf("Lease{id=%s v=%d host=%s latest=%s versions=[%s] commitInfo=%dB}",
		l.ID, l.LeaseVersion, l.Hostname, l.LatestVersion, strings.Join(parts, " "), len(l.CommitInfo))
}

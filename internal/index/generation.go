// Package index holds the identifiers the index lifecycle manager hands to the lease layer.
package index

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"mvlease/internal/status"
)

// DefaultDefinitionVersion is used when a definition carries no explicit version.
const DefaultDefinitionVersion int64 = 0

// ID is a 12-byte object id identifying one logical index.
type ID [12]byte

// NewID returns a random id.
func NewID() ID {
	var id ID
	_, _ = rand.Read(id[:])
	return id
}

// ParseID parses the 24 character hex form.
func ParseID(s string) (ID, error) {
	var id ID
	if len(s) != 2*len(id) {
		return id, fmt.Errorf("index: id %q must be %d hex characters", s, 2*len(id))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("index: parse id %q: %w", s, err)
	}
	return id, nil
}

func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

// Generation is one attempt at building one definition version of an index.
type Generation struct {
	UserVersion   int64
	FormatVersion int64
	AttemptNumber int64
}

// GenerationID identifies a generation of an index.
type GenerationID struct {
	IndexID    ID
	Generation Generation
}

func (g GenerationID) String() string {
	return fmt.Sprintf("%s_u%d_f%d_a%d",
		g.IndexID.Hex(), g.Generation.UserVersion, g.Generation.FormatVersion, g.Generation.AttemptNumber)
}

// Definition is the subset of an index definition the lease layer needs.
type Definition struct {
	IndexID                    ID
	CollectionUUID             uuid.UUID
	LastObservedCollectionName string
	// DefinitionVersion is nil when the user never versioned the definition.
	DefinitionVersion *int64
}

// VersionOrDefault returns the definition version, or DefaultDefinitionVersion.
func (d Definition) VersionOrDefault() int64 {
	if d.DefinitionVersion == nil {
		return DefaultDefinitionVersion
	}
	return *d.DefinitionVersion
}

// VersionKey is the string key under which a definition version is tracked.
func (d Definition) VersionKey() string {
	return VersionKey(d.VersionOrDefault())
}

// VersionKey renders a definition version as a map key.
func VersionKey(version int64) string {
	return strconv.FormatInt(version, 10)
}

// IndexGeneration is a generation together with its definition and current status.
type IndexGeneration struct {
	GenerationID GenerationID
	Definition   Definition
	Status       status.IndexStatus
}

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExportFormatVersion is the manifest format written by the current code.
// Imports refuse archives written with a different format version unless
// forced.
const ExportFormatVersion = "1.0"

// ExportMetadata is the manifest written next to the dump inside an export
// archive. It is read back and checked before any import touches data.
type ExportMetadata struct {
	Neo4jVersion      string    `json:"neo4jVersion"`
	ExportedAt        time.Time `json:"exportedAt"`
	Environment       string    `json:"environment"`
	NodeCount         int64     `json:"nodeCount"`
	RelationshipCount int64     `json:"relationshipCount"`
	SizeBytes         int64     `json:"sizeBytes"`
	FormatVersion     string    `json:"formatVersion"`
}

// MajorVersion extracts the leading major component of a version string such
// as "5.26.0". Unparseable versions yield -1.
func MajorVersion(version string) int {
	head, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	major, err := strconv.Atoi(head)
	if err != nil {
		return -1
	}
	return major
}

// CompatibleWith reports whether a dump taken at the manifest's engine
// version can be loaded into a target engine version. Dumps only travel
// within one major version.
func (m *ExportMetadata) CompatibleWith(targetVersion string) error {
	src := MajorVersion(m.Neo4jVersion)
	dst := MajorVersion(targetVersion)
	if src == -1 || dst == -1 {
		return fmt.Errorf("cannot compare versions %q and %q", m.Neo4jVersion, targetVersion)
	}
	if src != dst {
		return fmt.Errorf("dump from Neo4j %s is not compatible with Neo4j %s", m.Neo4jVersion, targetVersion)
	}
	return nil
}

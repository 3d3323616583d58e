package orchestrator

import (
	"errors"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
)

var (
	// ErrReadinessTimeout means the database never accepted an
	// authenticated connection within the startup timeout.
	ErrReadinessTimeout = errors.New("timed out waiting for database readiness")

	// ErrAuthenticationFailed means the database rejected the supplied
	// credentials. On reuse this usually means the volume was initialized
	// with a different password; removing the volume is up to the caller.
	ErrAuthenticationFailed = errors.New("authentication failed - credentials may differ from an existing instance")
)

// isAuthError reports whether a connectivity failure was an authentication
// rejection rather than the server not being up yet.
func isAuthError(err error) bool {
	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Code == "Neo.ClientError.Security.Unauthorized"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unauthorized")
}

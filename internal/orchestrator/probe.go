package orchestrator

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Prober checks whether a database accepts authenticated connections. The
// orchestrator polls it as the readiness signal after starting a container.
type Prober interface {
	Verify(ctx context.Context, uri, username, password string) error
}

// boltProber dials the real bolt endpoint with the Neo4j driver.
type boltProber struct{}

func (boltProber) Verify(ctx context.Context, uri, username, password string) error {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return err
	}
	defer driver.Close(ctx)
	return driver.VerifyConnectivity(ctx)
}

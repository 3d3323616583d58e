package models

import "time"

// PortAllocation is a reservation for one bolt/HTTP port pair. Allocations
// start out temporary (keyed by a generated ID, no container yet) and become
// permanent once committed against a real container ID.
type PortAllocation struct {
	ID          string    `json:"id"`
	BoltPort    int       `json:"boltPort"`
	HTTPPort    int       `json:"httpPort"`
	AllocatedAt time.Time `json:"allocatedAt"`
	ContainerID string    `json:"containerId,omitempty"`
}

// Temporary reports whether the allocation has not been bound to a container.
func (a *PortAllocation) Temporary() bool {
	return a.ContainerID == ""
}

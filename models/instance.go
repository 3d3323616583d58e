package models

// Environment names recognized by the manager. Development and production
// environments map to stable, reused resources; test environments always get
// fresh, uniquely named ones.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// ContainerConfig describes a requested database instance. It is built per
// call and discarded once the instance handle is returned.
type ContainerConfig struct {
	Environment string   `json:"environment" validate:"required,oneof=development test production"`
	Password    string   `json:"-" validate:"required"`
	Username    string   `json:"username,omitempty"`
	Plugins     []string `json:"plugins,omitempty"`
	Memory      string   `json:"memory,omitempty"`
	Prefix      string   `json:"prefix,omitempty"`
	Debug       bool     `json:"debug,omitempty"`
}

// InstanceStats holds live statistics for a running instance.
type InstanceStats struct {
	NodeCount         int64   `json:"nodeCount"`
	RelationshipCount int64   `json:"relationshipCount"`
	SizeBytes         int64   `json:"sizeBytes"`
	MemoryUsage       uint64  `json:"memoryUsage"`
	CPUPercent        float64 `json:"cpuPercent"`
}

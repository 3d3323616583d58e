package models

import "time"

// VolumeInfo describes a managed data volume.
type VolumeInfo struct {
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	CreatedAt   time.Time `json:"createdAt"`
	SizeBytes   int64     `json:"sizeBytes,omitempty"`
}

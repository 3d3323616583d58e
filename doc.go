// Package neopod manages ephemeral Neo4j instances in Docker containers.
//
// # Overview
//
// Neopod gives every environment its own disposable database container:
// development and production environments keep their data in a stable named
// volume across restarts, while test environments always start from a fresh,
// uniquely named volume so parallel runs never collide.
//
// The module consists of four cooperating components:
//   - Port Allocator: persistent host port bookkeeping across processes
//   - Volume Manager: per-environment data volumes with ownership labels
//   - Data Manager: dump-based export and import with compatibility checks
//   - Orchestrator: container lifecycle, reuse, and readiness probing
//
// # Architecture
//
//	┌─────────────────┐
//	│   CLI (cobra)   │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  Orchestrator   │◄──────┤  Port Allocator │
//	│                 │       │  (JSON table)   │
//	└────────┬────────┘       └─────────────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  Docker Daemon  │       │  Volume Manager │
//	│  (containers)   │◄──────┤  (labels)       │
//	└─────────────────┘       └─────────────────┘
//
// # Core Features
//
// Instance lifecycle:
//   - Idempotent start per environment with container reuse
//   - Readiness probing over bolt with authentication detection
//   - Graceful stop with port release
//
// Port allocation:
//   - Persistent allocation table shared between processes
//   - OS-level availability probing before handing out a port
//   - Automatic expiry of abandoned temporary allocations
//
// Data operations:
//   - neo4j-admin dump/load executed inside the container
//   - Compressed archives with a metadata manifest
//   - Major version compatibility checks before destructive imports
//
// Cleanup:
//   - Age-based removal of stale test containers and volumes
//   - Persistent environments are never touched
//
// # Usage
//
// Start a development instance:
//
//	neopod start --env development --password secret
//
// Export and re-import data:
//
//	neopod export backup.tar.gz --env development --password secret
//	neopod import backup.tar.gz --env test --password secret
//
// Remove stale test resources:
//
//	neopod cleanup --keep-days 7
//
// Configuration can be provided via:
//   - YAML file (config.yaml)
//   - Environment variables (NEOPOD_ prefix)
//   - .env file
//
// Example configuration:
//
//	neo4j:
//	  image: neo4j:5.26-community
//	  username: neo4j
//	  memory: 2G
//	  prefix: neopod
//	ports:
//	  bolt_base: 7687
//	  http_base: 7474
//	logging:
//	  level: info
//	  format: text
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o neopod ./cmd/neopod
//
// # Technology Stack
//
//   - Go 1.25+
//   - Docker API (Container runtime)
//   - Neo4j Go Driver v5 (Connectivity and queries)
//   - Cobra/Viper (CLI and configuration)
//   - Zap (Structured logging)
//
// # License
//
// Neopod is open source software.
package neopod

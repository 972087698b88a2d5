package gitbig

import (
	"github.com/aweris/gitbig/internal/config"
	"github.com/aweris/gitbig/internal/depot"
	"go.uber.org/zap"
)

// Backend is the depot storage contract.
// Re-exported from internal/depot for convenience.
type Backend = depot.Backend

// Blob is a small depot document with metadata.
type Blob = depot.Blob

// DepotConfig locates and authenticates against a depot.
type DepotConfig = config.Depot

// OpenBackend returns the backend for a depot URL.
func OpenBackend(cfg DepotConfig, l *zap.Logger) (Backend, error) {
	return depot.OpenBackend(cfg, l)
}

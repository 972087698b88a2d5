package gitbig

import "github.com/aweris/gitbig/internal/errors"

var (
	ErrIO                = errors.ErrIO
	ErrDirtyFile         = errors.ErrDirtyFile
	ErrDepotUnconfigured = errors.ErrDepotUnconfigured
	ErrObjectMissing     = errors.ErrObjectMissing
	ErrStaleIndexEntry   = errors.ErrStaleIndexEntry
	ErrProtocol          = errors.ErrProtocol
	ErrUsage             = errors.ErrUsage

	ErrNotExists    = errors.ErrNotExists
	ErrUnauthorized = errors.ErrUnauthorized
	ErrForbidden    = errors.ErrForbidden
	ErrStorageAPI   = errors.ErrStorageAPI
)

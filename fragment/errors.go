package fragment

import "errors"

var (
	// Registration errors
	ErrNameEmpty      = errors.New("fragment name cannot be empty")
	ErrModuleNil      = errors.New("fragment module cannot be nil")
	ErrUnknownKind    = errors.New("unknown fragment kind")
	ErrAlreadyMounted = errors.New("fragment already mounted")
	ErrNotMounted     = errors.New("fragment not mounted")

	// Lifecycle errors
	ErrLifecycleClosed = errors.New("fragment lifecycle closed")

	// Manifest errors
	ErrManifestFormat = errors.New("unsupported manifest format")
)

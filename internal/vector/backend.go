package vector

import (
	"fmt"
)

// Backend identifies which embedding representation is authoritative for
// this deployment. It is resolved once at startup and injected into the
// store and the retrieval engine; no per-request capability probing.
type Backend int

const (
	// BackendNative stores embeddings in a pgvector column, letting the
	// store order by vector distance server-side.
	BackendNative Backend = iota
	// BackendEncoded stores embeddings as little-endian float32 byte
	// buffers; similarity is computed in-process.
	BackendEncoded
)

const (
	ModeAuto    = "auto"
	ModeNative  = "native"
	ModeEncoded = "encoded"
)

func (b Backend) Native() bool {
	return b == BackendNative
}

func (b Backend) String() string {
	if b == BackendNative {
		return ModeNative
	}
	return ModeEncoded
}

// ResolveBackend picks a backend from the configured mode and the
// store's advertised capability. ModeNative without native support is a
// configuration error rather than a silent downgrade.
func ResolveBackend(mode string, nativeAvailable bool) (Backend, error) {
	switch mode {
	case ModeAuto, "":
		if nativeAvailable {
			return BackendNative, nil
		}
		return BackendEncoded, nil
	case ModeNative:
		if !nativeAvailable {
			return 0, fmt.Errorf("vector backend %q requested but pgvector extension is not installed", mode)
		}
		return BackendNative, nil
	case ModeEncoded:
		return BackendEncoded, nil
	default:
		return 0, fmt.Errorf("unknown vector backend %q (expected auto, native, or encoded)", mode)
	}
}

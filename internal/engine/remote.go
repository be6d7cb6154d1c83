package engine

import (
	"context"
	"io"
)

// Remote is the narrow contract the engine requires from the transport
// layer. Implementations project their wire records into typed entities at
// the boundary; the core never sees loose JSON.
//
// Errors returned by all four operations should be classified as
// *TransportError where possible so the retry loop can tell recoverable
// failures from fatal ones.
type Remote interface {
	// FetchAssets returns the full remote asset list.
	FetchAssets(ctx context.Context) ([]Asset, error)

	// FetchAlbums returns the full remote album list, including the root
	// album (empty UUID).
	FetchAlbums(ctx context.Context) ([]Album, error)

	// RefreshSession re-establishes the remote session. Idempotent; blocks
	// until the session is usable or fails.
	RefreshSession(ctx context.Context) error

	// Download streams the bytes behind a URL carried in an Asset record.
	// The caller closes the returned reader.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

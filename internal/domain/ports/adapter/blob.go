package adapter

import (
	"context"

	"video-generation-service/internal/domain/model"
)

// BlobStore persists generated artifacts. Writes are once per key; a ref
// attached to a completed job is never rewritten.
type BlobStore interface {
	// StoreBytes persists data under key and returns the handle.
	StoreBytes(ctx context.Context, key string, data []byte) (model.BlobRef, error)
	// StoreFromURL records (or fetches, implementation-defined) content
	// addressed by a remote URL.
	StoreFromURL(ctx context.Context, key string, url string) (model.BlobRef, error)
	// Bytes resolves a handle to the raw content.
	Bytes(ctx context.Context, ref model.BlobRef) ([]byte, error)
	// DirectURL returns a client-retrievable URL for the handle.
	DirectURL(ref model.BlobRef) string
}

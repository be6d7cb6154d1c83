package testutil

import (
	"io"
	"sync"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// CountingLibrary wraps an engine.Library and counts mutations, so tests can
// assert that a no-op sync touches nothing.
type CountingLibrary struct {
	engine.Library

	mu            sync.Mutex
	AssetsAdded   int
	AssetsRemoved int
	AlbumsAdded   int
	AlbumsRemoved int
}

// NewCountingLibrary wraps inner.
func NewCountingLibrary(inner engine.Library) *CountingLibrary {
	return &CountingLibrary{Library: inner}
}

// Mutations returns the total number of mutating calls observed.
func (c *CountingLibrary) Mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.AssetsAdded + c.AssetsRemoved + c.AlbumsAdded + c.AlbumsRemoved
}

func (c *CountingLibrary) AddAsset(a engine.Asset, r io.Reader) error {
	c.mu.Lock()
	c.AssetsAdded++
	c.mu.Unlock()
	return c.Library.AddAsset(a, r)
}

func (c *CountingLibrary) RemoveAsset(uuid string) error {
	c.mu.Lock()
	c.AssetsRemoved++
	c.mu.Unlock()
	return c.Library.RemoveAsset(uuid)
}

func (c *CountingLibrary) AddAlbum(b engine.Album) error {
	c.mu.Lock()
	c.AlbumsAdded++
	c.mu.Unlock()
	return c.Library.AddAlbum(b)
}

func (c *CountingLibrary) RemoveAlbum(uuid string) error {
	c.mu.Lock()
	c.AlbumsRemoved++
	c.mu.Unlock()
	return c.Library.RemoveAlbum(uuid)
}

// Compile-time check that CountingLibrary implements engine.Library.
var _ engine.Library = (*CountingLibrary)(nil)

package engine

import "io"

// Library persists and re-reads local state using the filesystem as the sole
// source of truth. Each operation is atomic at the filesystem-object level;
// no cross-operation atomicity is promised, because the next run re-derives
// state from disk.
type Library interface {
	// LoadAssets enumerates the asset pool into a UUID-keyed map.
	LoadAssets() (map[string]Asset, error)

	// LoadAlbums walks the album tree into a UUID-keyed map, classifying
	// each directory as FOLDER, ALBUM or ARCHIVED. The root album (empty
	// UUID) is always present.
	LoadAlbums() (map[string]Album, error)

	// AddAsset writes the asset bytes atomically into the pool, verifies the
	// advertised size and (if supplied) checksum, and stamps the remote
	// modification time. Idempotent: a present file matching the equality
	// fingerprint is left untouched.
	AddAsset(a Asset, r io.Reader) error

	// RemoveAsset unlinks the asset file. No-op if absent.
	RemoveAsset(uuid string) error

	// AddAlbum creates the album directory under its parent and, for ALBUM
	// kind, one relative symbolic link per member into the asset pool. All
	// referenced assets must already exist in the pool.
	AddAlbum(b Album) error

	// RemoveAlbum removes the album directory. Symbolic links are removed
	// first; a directory still holding subdirectories or regular files is
	// refused with an error the caller must treat as fatal.
	RemoveAlbum(uuid string) error
}

package engine

import (
	"path/filepath"
	"strings"
	"time"
)

// AssetKind tags the role of an asset file within the remote library.
type AssetKind string

const (
	AssetOriginal AssetKind = "original"
	AssetEdit     AssetKind = "edit"
	AssetLivePart AssetKind = "live-photo-part"
)

// AlbumKind classifies a node of the album hierarchy.
type AlbumKind string

const (
	// KindFolder contains only child albums.
	KindFolder AlbumKind = "FOLDER"
	// KindAlbum contains only asset members, materialized as symbolic links.
	KindAlbum AlbumKind = "ALBUM"
	// KindArchived contains user-owned regular files and is opaque to sync.
	KindArchived AlbumKind = "ARCHIVED"
)

// Asset is a single photo or video file identified by a stable remote UUID.
// Its bytes live exactly once in the asset pool, named {UUID}.{ext}.
type Asset struct {
	UUID        string
	Name        string // filename including extension
	Size        int64
	Modified    time.Time
	Kind        AssetKind
	DownloadURL string
	Checksum    string // hex SHA-256, optional
}

// Key returns the stable identifier used to match remote and local instances.
func (a Asset) Key() string { return a.UUID }

// Equal reports whether two instances of the same asset carry identical
// content, judged by size and modification time at second precision.
func (a Asset) Equal(other Asset) bool {
	return a.Size == other.Size && a.Modified.Unix() == other.Modified.Unix()
}

// Ext returns the asset's filename extension, including the leading dot.
func (a Asset) Ext() string { return filepath.Ext(a.Name) }

// PoolName returns the asset's filename within the asset pool.
func (a Asset) PoolName() string { return a.UUID + a.Ext() }

// Album is a node in the hierarchical organization of assets. The root album
// has an empty UUID and an empty parent UUID.
type Album struct {
	UUID       string
	Label      string
	Kind       AlbumKind
	ParentUUID string
	// Members maps asset UUID to the human-visible filename. Populated for
	// KindAlbum only.
	Members map[string]string
}

// Key returns the stable identifier used to match remote and local instances.
func (b Album) Key() string { return b.UUID }

// Equal reports whether two instances of the same album are interchangeable:
// kind, label, parent and membership all match. A membership change (added,
// removed or renamed member) makes the albums unequal so the on-disk links
// are rebuilt.
func (b Album) Equal(other Album) bool {
	if b.Kind != other.Kind || b.Label != other.Label || b.ParentUUID != other.ParentUUID {
		return false
	}
	if len(b.Members) != len(other.Members) {
		return false
	}
	for uuid, name := range b.Members {
		if other.Members[uuid] != name {
			return false
		}
	}
	return true
}

// DirName returns the album's on-disk directory name: a leading dot, the
// UUID, a dash, and the sanitized label. The UUID is recovered from such a
// name by stripping the dot and reading up to the first dash.
func (b Album) DirName() string {
	return "." + b.UUID + "-" + SafeLabel(b.Label)
}

// SafeLabel sanitizes an album label for use in a directory name.
func SafeLabel(label string) string {
	label = strings.ReplaceAll(label, string(filepath.Separator), "_")
	return strings.ReplaceAll(label, "\x00", "_")
}

// ParseDirName recovers the album UUID and label from an on-disk directory
// name produced by DirName. ok is false if the name does not carry the
// leading dot prefix.
func ParseDirName(name string) (uuid, label string, ok bool) {
	if !strings.HasPrefix(name, ".") {
		return "", "", false
	}
	uuid, label, _ = strings.Cut(name[1:], "-")
	return uuid, label, true
}

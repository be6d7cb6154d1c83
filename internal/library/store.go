package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// AssetDirName is the name of the flat asset pool directory under the data
// directory. Album directories are dot-prefixed, so the two never collide.
const AssetDirName = "assets"

// Store is the filesystem implementation of engine.Library. The data
// directory doubles as the root album; the asset pool lives in a flat
// subdirectory and album directories carry their UUID in a dot-prefixed name
// so state survives between runs with no index file.
type Store struct {
	root      string
	assetsDir string
	logger    engine.Logger

	// paths maps album UUID to directory path. Rebuilt by LoadAlbums and
	// kept current across Add/RemoveAlbum within a run; never persisted.
	paths map[string]string
}

// NewStore creates a Store rooted at dataDir, creating the asset pool
// directory if needed.
func NewStore(dataDir string, logger engine.Logger) (*Store, error) {
	assetsDir := filepath.Join(dataDir, AssetDirName)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating asset pool: %w", err)
	}
	return &Store{
		root:      dataDir,
		assetsDir: assetsDir,
		logger:    logger,
		paths:     map[string]string{"": dataDir},
	}, nil
}

// LoadAssets enumerates the asset pool. Each regular file named
// {UUID}.{ext} yields one Asset carrying the file's size and modification
// time; nothing else in the pool is touched.
func (s *Store) LoadAssets() (map[string]engine.Asset, error) {
	entries, err := os.ReadDir(s.assetsDir)
	if err != nil {
		return nil, fmt.Errorf("reading asset pool: %w", err)
	}

	assets := make(map[string]engine.Asset, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			// Temp files left behind by an interrupted write.
			continue
		}
		ext := filepath.Ext(name)
		uuid := name[:len(name)-len(ext)]
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		assets[uuid] = engine.Asset{
			UUID:     uuid,
			Name:     name,
			Size:     info.Size(),
			Modified: info.ModTime(),
		}
	}
	return assets, nil
}

// LoadAlbums walks the album tree from the data directory down. Directory
// contents decide the kind: subdirectories mean FOLDER, regular files with
// no subdirectories mean ARCHIVED, and anything else (symbolic links only,
// or empty) means ALBUM. The root album is always present under the empty
// UUID.
func (s *Store) LoadAlbums() (map[string]engine.Album, error) {
	albums := map[string]engine.Album{
		"": {UUID: "", Kind: engine.KindFolder},
	}
	s.paths = map[string]string{"": s.root}

	if err := s.walkAlbums(s.root, "", albums); err != nil {
		return nil, err
	}
	return albums, nil
}

func (s *Store) walkAlbums(dir string, parentUUID string, albums map[string]engine.Album) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading album directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		uuid, label, ok := engine.ParseDirName(entry.Name())
		if !ok {
			// The asset pool, and anything else the user dropped in.
			continue
		}

		path := filepath.Join(dir, entry.Name())
		album, err := s.loadOneAlbum(path, uuid, label, parentUUID)
		if err != nil {
			return err
		}
		albums[uuid] = album
		s.paths[uuid] = path

		if album.Kind == engine.KindFolder {
			if err := s.walkAlbums(path, uuid, albums); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadOneAlbum classifies a single album directory and, for ALBUM kind,
// recovers its membership from the symbolic links inside.
func (s *Store) loadOneAlbum(path, uuid, label, parentUUID string) (engine.Album, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return engine.Album{}, fmt.Errorf("reading album directory %s: %w", path, err)
	}

	var subdirs, files, links int
	for _, entry := range entries {
		switch {
		case entry.IsDir():
			subdirs++
		case entry.Type()&fs.ModeSymlink != 0:
			links++
		case entry.Type().IsRegular():
			files++
		}
	}

	album := engine.Album{UUID: uuid, Label: label, ParentUUID: parentUUID}
	switch {
	case subdirs > 0:
		album.Kind = engine.KindFolder
		if files > 0 || links > 0 {
			s.logger.Warn("folder album has non-directory entries, treating as FOLDER anyway",
				"uuid", uuid, "path", path)
		}
	case files > 0:
		album.Kind = engine.KindArchived
		s.logger.Warn("album contains regular files, treating as ARCHIVED",
			"uuid", uuid, "path", path)
	default:
		album.Kind = engine.KindAlbum
		album.Members = make(map[string]string, links)
		for _, entry := range entries {
			if entry.Type()&fs.ModeSymlink == 0 {
				continue
			}
			target, err := os.Readlink(filepath.Join(path, entry.Name()))
			if err != nil {
				return engine.Album{}, fmt.Errorf("reading link %s: %w", entry.Name(), err)
			}
			base := filepath.Base(target)
			album.Members[base[:len(base)-len(filepath.Ext(base))]] = entry.Name()
		}
	}
	return album, nil
}

// AddAsset writes the asset bytes into the pool under {UUID}.{ext} via a
// temp file and atomic rename, verifying the advertised size and checksum,
// then stamps the remote modification time. A present file that already
// matches the equality fingerprint is left untouched.
func (s *Store) AddAsset(a engine.Asset, r io.Reader) error {
	dest := filepath.Join(s.assetsDir, a.PoolName())

	if info, err := os.Stat(dest); err == nil {
		if info.Size() == a.Size && info.ModTime().Unix() == a.Modified.Unix() {
			s.logger.Debug("asset already present", "uuid", a.UUID)
			return nil
		}
	}

	tmp, err := os.CreateTemp(s.assetsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing asset bytes: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if written != a.Size {
		return fmt.Errorf("size mismatch for %s: expected %d bytes, got %d", a.UUID, a.Size, written)
	}
	if a.Checksum != "" {
		if sum := hex.EncodeToString(hash.Sum(nil)); sum != a.Checksum {
			return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", a.UUID, a.Checksum, sum)
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true

	if err := os.Chtimes(dest, a.Modified, a.Modified); err != nil {
		return fmt.Errorf("setting modification time: %w", err)
	}
	return nil
}

// RemoveAsset unlinks the asset's pool file regardless of extension. No-op
// if absent.
func (s *Store) RemoveAsset(uuid string) error {
	matches, err := filepath.Glob(filepath.Join(s.assetsDir, uuid+".*"))
	if err != nil {
		return fmt.Errorf("globbing asset %s: %w", uuid, err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return fmt.Errorf("removing asset file: %w", err)
		}
	}
	return nil
}

// AddAlbum creates the album directory under its parent's path. For ALBUM
// kind it creates one symbolic link per member, pointing by relative path
// into the asset pool; every referenced asset must already be there.
func (s *Store) AddAlbum(b engine.Album) error {
	parentPath, ok := s.paths[b.ParentUUID]
	if !ok {
		return &engine.InvariantError{UUID: b.UUID, Reason: "parent album " + b.ParentUUID + " is not materialized"}
	}

	dir := filepath.Join(parentPath, b.DirName())
	if err := os.Mkdir(dir, 0755); err != nil {
		return fmt.Errorf("creating album directory: %w", err)
	}
	s.paths[b.UUID] = dir

	if b.Kind != engine.KindAlbum {
		return nil
	}

	uuids := make([]string, 0, len(b.Members))
	for uuid := range b.Members {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)

	for _, uuid := range uuids {
		name := b.Members[uuid]
		target := filepath.Join(s.assetsDir, uuid+filepath.Ext(name))
		if _, err := os.Stat(target); err != nil {
			return &engine.InvariantError{UUID: b.UUID, Reason: "member asset " + uuid + " is missing from the pool"}
		}
		rel, err := filepath.Rel(dir, target)
		if err != nil {
			return fmt.Errorf("computing link target: %w", err)
		}
		if err := os.Symlink(rel, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("creating link %s: %w", name, err)
		}
	}
	return nil
}

// RemoveAlbum removes the album directory. Symbolic links inside are removed
// first; subdirectories or regular files make the removal fail, which is the
// guard that keeps ARCHIVED albums intact.
func (s *Store) RemoveAlbum(uuid string) error {
	if uuid == "" {
		return fmt.Errorf("refusing to remove the root album")
	}
	path, ok := s.paths[uuid]
	if !ok {
		return fmt.Errorf("album %s has no known path", uuid)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("reading album directory %s: %w", path, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return fmt.Errorf("album %s still has subdirectories", uuid)
		}
		if entry.Type().IsRegular() {
			return fmt.Errorf("album %s contains regular files, refusing to remove", uuid)
		}
	}
	for _, entry := range entries {
		if err := os.Remove(filepath.Join(path, entry.Name())); err != nil {
			return fmt.Errorf("removing link %s: %w", entry.Name(), err)
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing album directory: %w", err)
	}
	delete(s.paths, uuid)
	return nil
}

// Compile-time check that Store implements engine.Library.
var _ engine.Library = (*Store)(nil)

package icloud

import (
	"time"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// The photo service answers record queries with loosely-typed JSON. These
// projections are the only place that shape exists; everything past this
// package is a typed entity.

// contentRecord is the downloadable side of an asset: the bytes' location,
// size and integrity data. Joined to a masterRecord by MasterRef.
type contentRecord struct {
	RecordName  string `json:"recordName"`
	MasterRef   string `json:"masterRef"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"downloadURL"`
	Checksum    string `json:"checksum,omitempty"`
	Kind        string `json:"kind"`
}

// masterRecord is the descriptive side of an asset: filename and capture
// metadata.
type masterRecord struct {
	RecordName string `json:"recordName"`
	Filename   string `json:"filename"`
	ModifiedMS int64  `json:"modified"`
}

// albumRecord is one node of the remote album hierarchy.
type albumRecord struct {
	RecordName string `json:"recordName"`
	Label      string `json:"label"`
	ParentRef  string `json:"parentRef"`
	Kind       string `json:"kind"`
	// Members maps asset record names to filenames; present for ALBUM kind.
	Members map[string]string `json:"members,omitempty"`
}

// recordQuery is the request body of a records/query call.
type recordQuery struct {
	RecordType string `json:"recordType"`
}

// recordResponse is the envelope of a records/query answer. Exactly one of
// the lists is populated, matching the queried record type.
type recordResponse struct {
	ContentRecords []contentRecord `json:"contentRecords,omitempty"`
	MasterRecords  []masterRecord  `json:"masterRecords,omitempty"`
	AlbumRecords   []albumRecord   `json:"albumRecords,omitempty"`
}

// joinAssetRecords matches content records to master records by the shared
// identifier and projects each pair into an Asset. Content records with no
// master are dropped with a warning; the remote occasionally serves them
// while an upload is still settling.
func joinAssetRecords(contents []contentRecord, masters []masterRecord, logger engine.Logger) []engine.Asset {
	byRef := make(map[string]masterRecord, len(masters))
	for _, m := range masters {
		byRef[m.RecordName] = m
	}

	assets := make([]engine.Asset, 0, len(contents))
	for _, c := range contents {
		m, ok := byRef[c.MasterRef]
		if !ok {
			logger.Warn("content record has no master record, skipping", "record", c.RecordName)
			continue
		}
		assets = append(assets, engine.Asset{
			UUID:        c.RecordName,
			Name:        m.Filename,
			Size:        c.Size,
			Modified:    time.UnixMilli(m.ModifiedMS),
			Kind:        assetKind(c.Kind),
			DownloadURL: c.DownloadURL,
			Checksum:    c.Checksum,
		})
	}
	return assets
}

func assetKind(kind string) engine.AssetKind {
	switch kind {
	case "edit":
		return engine.AssetEdit
	case "live":
		return engine.AssetLivePart
	default:
		return engine.AssetOriginal
	}
}

// projectAlbums converts album records into entities and prepends the root
// album, which the service never lists explicitly.
func projectAlbums(records []albumRecord) []engine.Album {
	albums := make([]engine.Album, 0, len(records)+1)
	albums = append(albums, engine.Album{UUID: "", Kind: engine.KindFolder})
	for _, r := range records {
		kind := engine.KindAlbum
		if r.Kind == "folder" {
			kind = engine.KindFolder
		}
		albums = append(albums, engine.Album{
			UUID:       r.RecordName,
			Label:      r.Label,
			Kind:       kind,
			ParentUUID: r.ParentRef,
			Members:    r.Members,
		})
	}
	return albums
}

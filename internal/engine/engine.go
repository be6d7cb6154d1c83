package engine

import (
	"context"
	"fmt"
	"sync"
)

// Options is the configuration surface of the sync engine.
type Options struct {
	// DownloadThreads is the worker count of the bounded download pool.
	DownloadThreads int
	// MaxRetries is the retry budget for recoverable transport failures.
	// -1 means retry forever.
	MaxRetries int
	// IgnoreAlbums is a set of album labels excluded from the remote list
	// before diffing. Descendants of an ignored album are excluded with it.
	IgnoreAlbums []string
}

// SyncEngine drives one fetch → diff → write pipeline per attempt, wrapped
// in a retry loop that tolerates recoverable transport failures.
type SyncEngine struct {
	remote   Remote
	library  Library
	resolver *Resolver
	pool     *downloadPool
	logger   Logger
	opts     Options
	events   chan<- Event
	phase    Phase
}

// New creates a SyncEngine. events may be nil when no subscriber exists;
// otherwise the caller consumes the channel for the duration of Sync.
func New(remote Remote, library Library, logger Logger, opts Options, events chan<- Event) *SyncEngine {
	return &SyncEngine{
		remote:   remote,
		library:  library,
		resolver: NewResolver(),
		pool:     newDownloadPool(opts.DownloadThreads, remote, library, logger),
		logger:   logger,
		opts:     opts,
		events:   events,
		phase:    PhaseIdle,
	}
}

func (e *SyncEngine) emit(ev Event) {
	if e.events != nil {
		e.events <- ev
	}
}

func (e *SyncEngine) setPhase(p Phase) {
	e.phase = p
	e.emit(PhaseChanged{Phase: p})
}

// Phase returns the engine's current pipeline phase.
func (e *SyncEngine) Phase() Phase { return e.phase }

// Sync mirrors the remote library into the local one and returns the final
// local entity maps, re-read from disk after the write phase.
//
// On a recoverable transport failure the attempt is abandoned, the session
// is refreshed, and the whole pipeline runs again, up to the retry budget.
// Anything else aborts the run immediately.
func (e *SyncEngine) Sync(ctx context.Context) (map[string]Asset, map[string]Album, error) {
	failures := 0
	for {
		summary, err := e.attempt(ctx)
		if err == nil {
			summary.Attempts = failures + 1
			e.setPhase(PhaseDone)
			e.emit(SyncCompleted{Summary: summary})
			assets, albums, err := e.reload()
			if err != nil {
				return nil, nil, err
			}
			return assets, albums, nil
		}

		if !IsRecoverable(err) {
			e.setPhase(PhaseFatal)
			return nil, nil, err
		}

		failures++
		if e.opts.MaxRetries >= 0 && failures > e.opts.MaxRetries {
			e.setPhase(PhaseFatal)
			return nil, nil, &RetryBudgetError{Attempts: failures, Last: err}
		}

		e.setPhase(PhaseRetrying)
		e.emit(RetryScheduled{NextAttempt: failures + 1, Cause: err})
		e.logger.Warn("attempt failed, retrying", "attempt", failures, "error", err)

		if rerr := e.remote.RefreshSession(ctx); rerr != nil {
			if !IsRecoverable(rerr) {
				e.setPhase(PhaseFatal)
				return nil, nil, fmt.Errorf("refreshing session: %w", rerr)
			}
			e.logger.Warn("session refresh failed", "error", rerr)
		}
	}
}

// attempt runs one pass of the three-phase pipeline and returns the summary
// of the work performed.
func (e *SyncEngine) attempt(ctx context.Context) (Summary, error) {
	remoteAssets, remoteAlbums, localAssets, localAlbums, err := e.fetchAndLoad(ctx)
	if err != nil {
		return Summary{}, err
	}

	e.setPhase(PhaseDiffing)
	assetQ := Diff(remoteAssets, localAssets)
	albumQ := Diff(remoteAlbums, localAlbums)
	albumQ, err = e.resolver.Resolve(albumQ, localAlbums)
	if err != nil {
		return Summary{}, err
	}
	e.emit(DiffCompleted{
		Assets: QueueSizes{Keep: len(assetQ.ToKeep), Add: len(assetQ.ToAdd), Delete: len(assetQ.ToDelete)},
		Albums: QueueSizes{Keep: len(albumQ.ToKeep), Add: len(albumQ.ToAdd), Delete: len(albumQ.ToDelete)},
	})

	e.setPhase(PhaseWriting)
	if err := e.writeAssets(ctx, assetQ); err != nil {
		return Summary{}, err
	}
	if err := e.writeAlbums(albumQ); err != nil {
		return Summary{}, err
	}

	return Summary{
		AssetsKept:    len(assetQ.ToKeep),
		AssetsAdded:   len(assetQ.ToAdd),
		AssetsRemoved: len(assetQ.ToDelete),
		AlbumsKept:    len(albumQ.ToKeep),
		AlbumsAdded:   len(albumQ.ToAdd),
		AlbumsRemoved: len(albumQ.ToDelete),
	}, nil
}

// fetchAndLoad runs the four enumeration subtasks concurrently: remote
// assets, remote albums, local assets, local albums. They touch disjoint
// state and join before the diff phase.
func (e *SyncEngine) fetchAndLoad(ctx context.Context) ([]Asset, []Album, map[string]Asset, map[string]Album, error) {
	e.setPhase(PhaseFetching)

	var (
		remoteAssets []Asset
		remoteAlbums []Album
		localAssets  map[string]Asset
		localAlbums  map[string]Album
		errs         [4]error
	)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		remoteAssets, errs[0] = e.remote.FetchAssets(ctx)
	}()
	go func() {
		defer wg.Done()
		remoteAlbums, errs[1] = e.remote.FetchAlbums(ctx)
	}()
	go func() {
		defer wg.Done()
		localAssets, errs[2] = e.library.LoadAssets()
	}()
	go func() {
		defer wg.Done()
		localAlbums, errs[3] = e.library.LoadAlbums()
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}

	remoteAlbums = excludeAlbums(remoteAlbums, ignoredUUIDs(remoteAlbums, e.opts.IgnoreAlbums))

	// ARCHIVED albums are invisible to the diff: the local entries leave the
	// map and the matching remote records (plus their descendants) leave the
	// list, so user-owned files are never touched.
	archived := make(map[string]bool)
	for uuid, b := range localAlbums {
		if b.Kind == KindArchived {
			archived[uuid] = true
			delete(localAlbums, uuid)
		}
	}
	if len(archived) > 0 {
		remoteAlbums = excludeAlbums(remoteAlbums, archived)
	}

	e.emit(FetchCompleted{
		RemoteAssets: len(remoteAssets),
		RemoteAlbums: len(remoteAlbums),
		LocalAssets:  len(localAssets),
		LocalAlbums:  len(localAlbums),
	})
	e.logger.Info("fetch & load complete",
		"remote_assets", len(remoteAssets),
		"remote_albums", len(remoteAlbums),
		"local_assets", len(localAssets),
		"local_albums", len(localAlbums),
	)
	return remoteAssets, remoteAlbums, localAssets, localAlbums, nil
}

// ignoredUUIDs resolves the configured ignore labels against the remote list.
func ignoredUUIDs(albums []Album, labels []string) map[string]bool {
	if len(labels) == 0 {
		return nil
	}
	byLabel := make(map[string]bool, len(labels))
	for _, l := range labels {
		byLabel[l] = true
	}
	uuids := make(map[string]bool)
	for _, b := range albums {
		if b.UUID != "" && byLabel[b.Label] {
			uuids[b.UUID] = true
		}
	}
	return uuids
}

// excludeAlbums drops the given albums and all their remote descendants so
// the surviving list never carries a dangling parent reference.
func excludeAlbums(albums []Album, drop map[string]bool) []Album {
	if len(drop) == 0 {
		return albums
	}
	dropped := make(map[string]bool, len(drop))
	for uuid := range drop {
		dropped[uuid] = true
	}
	// Children may precede parents in the list; iterate until settled.
	for changed := true; changed; {
		changed = false
		for _, b := range albums {
			if b.UUID != "" && !dropped[b.UUID] && b.ParentUUID != "" && dropped[b.ParentUUID] {
				dropped[b.UUID] = true
				changed = true
			}
		}
	}
	out := albums[:0:0]
	for _, b := range albums {
		if !dropped[b.UUID] {
			out = append(out, b)
		}
	}
	return out
}

// writeAssets executes the asset queue: deletions serially on the driver,
// then additions through the bounded download pool. All deletes happen
// before any add so a changed asset's removal never races its re-download.
func (e *SyncEngine) writeAssets(ctx context.Context, q Queue[Asset]) error {
	for _, a := range q.ToDelete {
		if err := e.library.RemoveAsset(a.UUID); err != nil {
			return fmt.Errorf("removing asset %s: %w", a.UUID, err)
		}
		e.emit(AssetRemoved{UUID: a.UUID})
	}
	return e.pool.run(ctx, q.ToAdd, e.emit)
}

// writeAlbums executes the album queue strictly serially, deletions before
// additions, each in resolver order. Every ALBUM is created after all its
// referenced assets exist in the pool because assets are written first.
func (e *SyncEngine) writeAlbums(q Queue[Album]) error {
	for _, b := range q.ToDelete {
		if err := e.library.RemoveAlbum(b.UUID); err != nil {
			return fmt.Errorf("removing album %s: %w", b.UUID, err)
		}
		e.emit(AlbumRemoved{UUID: b.UUID})
	}
	for _, b := range q.ToAdd {
		if err := e.library.AddAlbum(b); err != nil {
			return fmt.Errorf("adding album %s: %w", b.UUID, err)
		}
		e.emit(AlbumAdded{UUID: b.UUID, Label: b.Label})
	}
	return nil
}

// reload re-reads the final local state from disk after a successful run.
func (e *SyncEngine) reload() (map[string]Asset, map[string]Album, error) {
	assets, err := e.library.LoadAssets()
	if err != nil {
		return nil, nil, fmt.Errorf("reloading assets: %w", err)
	}
	albums, err := e.library.LoadAlbums()
	if err != nil {
		return nil, nil, fmt.Errorf("reloading albums: %w", err)
	}
	return assets, albums, nil
}

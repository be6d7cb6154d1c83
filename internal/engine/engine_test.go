package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
	"github.com/jasonwaters/icloud-photos-sync/internal/library"
	"github.com/jasonwaters/icloud-photos-sync/internal/testutil"
)

func newStore(t *testing.T) (*library.Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := library.NewStore(dataDir, engine.NewNopLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, dataDir
}

func remoteAsset(uuid string, size int64, sec int64) engine.Asset {
	return engine.Asset{
		UUID:        uuid,
		Name:        uuid + ".jpg",
		Size:        size,
		Modified:    time.Unix(sec, 0),
		Kind:        engine.AssetOriginal,
		DownloadURL: "https://remote.test/" + uuid,
	}
}

func rootAlbum() engine.Album {
	return engine.Album{UUID: "", Kind: engine.KindFolder}
}

func syncOnce(t *testing.T, remote *testutil.FakeRemote, lib engine.Library, opts engine.Options) (map[string]engine.Asset, map[string]engine.Album, error) {
	t.Helper()
	eng := engine.New(remote, lib, engine.NewNopLogger(), opts, nil)
	return eng.Sync(context.Background())
}

func defaultOpts() engine.Options {
	return engine.Options{DownloadThreads: 3, MaxRetries: 3}
}

func TestSync_FreshRun(t *testing.T) {
	store, dataDir := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.AddAsset(remoteAsset("a2", 6, 20), []byte("222222"))
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "f1", Label: "Family", Kind: engine.KindFolder, ParentUUID: ""},
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "f1",
			Members: map[string]string{"a1": "a1.jpg"}},
	}

	assets, albums, err := syncOnce(t, remote, store, defaultOpts())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if len(assets) != 2 {
		t.Errorf("final assets = %d, want 2", len(assets))
	}
	if len(albums) != 3 {
		t.Errorf("final albums = %d, want 3 (incl. root)", len(albums))
	}

	// Pool contents.
	for _, name := range []string{"a1.jpg", "a2.jpg"} {
		if _, err := os.Stat(filepath.Join(dataDir, library.AssetDirName, name)); err != nil {
			t.Errorf("pool file %s missing: %v", name, err)
		}
	}

	// Album tree and the link through it.
	link := filepath.Join(dataDir, ".f1-Family", ".b1-Trip", "a1.jpg")
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if target != filepath.Join("..", "..", library.AssetDirName, "a1.jpg") {
		t.Errorf("link target = %q, want relative path into the pool", target)
	}
	if _, err := os.Stat(link); err != nil {
		t.Errorf("link does not resolve: %v", err)
	}

	// Modification times mirror the remote records.
	info, err := os.Stat(filepath.Join(dataDir, library.AssetDirName, "a1.jpg"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.ModTime().Unix() != 10 {
		t.Errorf("a1 mtime = %d, want 10", info.ModTime().Unix())
	}
}

func TestSync_SecondRunIsIdempotent(t *testing.T) {
	store, _ := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "",
			Members: map[string]string{"a1": "a1.jpg"}},
	}

	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	counting := testutil.NewCountingLibrary(store)
	if _, _, err := syncOnce(t, remote, counting, defaultOpts()); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if n := counting.Mutations(); n != 0 {
		t.Errorf("second run performed %d mutations, want 0", n)
	}
}

func TestSync_ReparentMovesAlbumDirectory(t *testing.T) {
	store, dataDir := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "f1", Label: "Family", Kind: engine.KindFolder, ParentUUID: ""},
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "f1",
			Members: map[string]string{"a1": "a1.jpg"}},
	}
	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	// The album moves to the root.
	remote.Albums[2].ParentUUID = ""
	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(dataDir, ".f1-Family", ".b1-Trip")); !os.IsNotExist(err) {
		t.Errorf("old album location still present (err = %v)", err)
	}
	link := filepath.Join(dataDir, ".b1-Trip", "a1.jpg")
	if _, err := os.Stat(link); err != nil {
		t.Errorf("moved album link does not resolve: %v", err)
	}
}

func TestSync_ChangedAssetIsRedownloaded(t *testing.T) {
	store, dataDir := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "",
			Members: map[string]string{"a1": "a1.jpg"}},
	}
	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	// Same bytes length, new modification time.
	remote.Assets[0].Modified = time.Unix(11, 0)
	remote.Content[remote.Assets[0].DownloadURL] = []byte("22222")

	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	poolFile := filepath.Join(dataDir, library.AssetDirName, "a1.jpg")
	data, err := os.ReadFile(poolFile)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "22222" {
		t.Errorf("pool content = %q, want re-downloaded bytes", data)
	}
	info, _ := os.Stat(poolFile)
	if info.ModTime().Unix() != 11 {
		t.Errorf("mtime = %d, want 11", info.ModTime().Unix())
	}
	if _, err := os.Stat(filepath.Join(dataDir, ".b1-Trip", "a1.jpg")); err != nil {
		t.Errorf("album link no longer resolves: %v", err)
	}
}

func TestSync_DeletedFolderWithSurvivingChildIsFatal(t *testing.T) {
	store, _ := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "f1", Label: "Family", Kind: engine.KindFolder, ParentUUID: ""},
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "f1",
			Members: map[string]string{"a1": "a1.jpg"}},
	}
	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	// The folder vanishes remotely but its child still references it.
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "f1",
			Members: map[string]string{"a1": "a1.jpg"}},
	}

	counting := testutil.NewCountingLibrary(store)
	_, _, err := syncOnce(t, remote, counting, defaultOpts())

	var inv *engine.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("Sync() error = %v, want InvariantError", err)
	}
	if n := counting.Mutations(); n != 0 {
		t.Errorf("fatal run performed %d mutations, want 0", n)
	}
}

func TestSync_ArchivedAlbumIsPreserved(t *testing.T) {
	store, dataDir := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "f1", Label: "Family", Kind: engine.KindFolder, ParentUUID: ""},
	}
	if _, _, err := syncOnce(t, remote, store, defaultOpts()); err != nil {
		t.Fatalf("first Sync() error = %v", err)
	}

	// The user archives the folder by filling it with regular files.
	archived := filepath.Join(dataDir, ".f1-Family", "keepsake.jpg")
	if err := os.WriteFile(archived, []byte("mine"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	counting := testutil.NewCountingLibrary(store)
	if _, _, err := syncOnce(t, remote, counting, defaultOpts()); err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}

	if n := counting.Mutations(); n != 0 {
		t.Errorf("archived run performed %d mutations, want 0", n)
	}
	if _, err := os.Stat(archived); err != nil {
		t.Errorf("archived file was touched: %v", err)
	}
}

func TestSync_RecoverableFailuresAreRetried(t *testing.T) {
	store, dataDir := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.AddAsset(remoteAsset("a2", 6, 20), []byte("222222"))
	remote.Albums = []engine.Album{rootAlbum()}

	badResponse := func() error {
		return &engine.TransportError{Kind: engine.TransportBadResponse, Op: "download"}
	}
	remote.DownloadFailures["https://remote.test/a2"] = []error{
		badResponse(), badResponse(), badResponse(),
	}

	opts := defaultOpts()
	opts.MaxRetries = 5
	assets, _, err := syncOnce(t, remote, store, opts)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if remote.RefreshCalls != 3 {
		t.Errorf("RefreshSession called %d times, want 3", remote.RefreshCalls)
	}
	if len(assets) != 2 {
		t.Errorf("final assets = %d, want 2", len(assets))
	}
	if _, err := os.Stat(filepath.Join(dataDir, library.AssetDirName, "a2.jpg")); err != nil {
		t.Errorf("a2 missing after retries: %v", err)
	}
}

func TestSync_RetryBudgetExhausted(t *testing.T) {
	store, _ := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{rootAlbum()}

	var failures []error
	for i := 0; i < 10; i++ {
		failures = append(failures, &engine.TransportError{Kind: engine.TransportBadResponse, Op: "download"})
	}
	remote.DownloadFailures["https://remote.test/a1"] = failures

	opts := defaultOpts()
	opts.MaxRetries = 2
	_, _, err := syncOnce(t, remote, store, opts)

	var budget *engine.RetryBudgetError
	if !errors.As(err, &budget) {
		t.Fatalf("Sync() error = %v, want RetryBudgetError", err)
	}
	if budget.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", budget.Attempts)
	}
	if !errors.Is(err, budget.Last) {
		t.Errorf("RetryBudgetError does not carry the last cause")
	}
}

func TestSync_AuthFailureIsFatal(t *testing.T) {
	store, _ := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.FetchAssetFailures = []error{
		&engine.TransportError{Kind: engine.TransportAuthFailed, Op: "records/query"},
	}

	_, _, err := syncOnce(t, remote, store, defaultOpts())
	if err == nil {
		t.Fatal("Sync() expected error")
	}
	if engine.IsRecoverable(err) {
		t.Errorf("auth failure classified as recoverable: %v", err)
	}
	if remote.RefreshCalls != 0 {
		t.Errorf("RefreshSession called %d times after fatal error, want 0", remote.RefreshCalls)
	}
}

func TestSync_IgnoredAlbumsAreExcluded(t *testing.T) {
	store, dataDir := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{
		rootAlbum(),
		{UUID: "f1", Label: "Hidden", Kind: engine.KindFolder, ParentUUID: ""},
		{UUID: "b1", Label: "Trip", Kind: engine.KindAlbum, ParentUUID: "f1",
			Members: map[string]string{"a1": "a1.jpg"}},
	}

	opts := defaultOpts()
	opts.IgnoreAlbums = []string{"Hidden"}
	_, albums, err := syncOnce(t, remote, store, opts)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	if len(albums) != 1 {
		t.Errorf("final albums = %d, want only the root", len(albums))
	}
	if _, err := os.Stat(filepath.Join(dataDir, ".f1-Hidden")); !os.IsNotExist(err) {
		t.Errorf("ignored album was created (err = %v)", err)
	}
}

func TestSync_EmitsProgressEvents(t *testing.T) {
	store, _ := newStore(t)

	remote := testutil.NewFakeRemote()
	remote.AddAsset(remoteAsset("a1", 5, 10), []byte("11111"))
	remote.Albums = []engine.Album{rootAlbum()}

	events := make(chan engine.Event, 128)
	eng := engine.New(remote, store, engine.NewNopLogger(), defaultOpts(), events)
	if _, _, err := eng.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	close(events)

	var phases []engine.Phase
	var completed *engine.SyncCompleted
	for ev := range events {
		switch e := ev.(type) {
		case engine.PhaseChanged:
			phases = append(phases, e.Phase)
		case engine.SyncCompleted:
			completed = &e
		}
	}

	want := []engine.Phase{engine.PhaseFetching, engine.PhaseDiffing, engine.PhaseWriting, engine.PhaseDone}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase[%d] = %v, want %v", i, phases[i], want[i])
		}
	}

	if completed == nil {
		t.Fatal("no SyncCompleted event")
	}
	if completed.Summary.AssetsAdded != 1 || completed.Summary.Attempts != 1 {
		t.Errorf("summary = %+v, want 1 asset added in 1 attempt", completed.Summary)
	}
}

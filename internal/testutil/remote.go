package testutil

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
)

// FakeRemote is a scriptable in-memory implementation of engine.Remote.
// Failures are queued per operation and popped one per call, so tests can
// script "fail twice, then succeed".
type FakeRemote struct {
	mu sync.Mutex

	Assets  []engine.Asset
	Albums  []engine.Album
	Content map[string][]byte // download URL → bytes

	FetchAssetFailures []error
	FetchAlbumFailures []error
	DownloadFailures   map[string][]error // download URL → queued failures
	RefreshFailures    []error

	FetchAssetCalls int
	DownloadCalls   int
	RefreshCalls    int
}

// NewFakeRemote creates an empty FakeRemote.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Content:          map[string][]byte{},
		DownloadFailures: map[string][]error{},
	}
}

// AddAsset registers an asset and its downloadable bytes in one step.
func (r *FakeRemote) AddAsset(a engine.Asset, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Assets = append(r.Assets, a)
	r.Content[a.DownloadURL] = content
}

func (r *FakeRemote) FetchAssets(_ context.Context) ([]engine.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FetchAssetCalls++
	if err := pop(&r.FetchAssetFailures); err != nil {
		return nil, err
	}
	return append([]engine.Asset(nil), r.Assets...), nil
}

func (r *FakeRemote) FetchAlbums(_ context.Context) ([]engine.Album, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := pop(&r.FetchAlbumFailures); err != nil {
		return nil, err
	}
	return append([]engine.Album(nil), r.Albums...), nil
}

func (r *FakeRemote) RefreshSession(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RefreshCalls++
	return pop(&r.RefreshFailures)
}

func (r *FakeRemote) Download(_ context.Context, url string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DownloadCalls++

	queue := r.DownloadFailures[url]
	if err := pop(&queue); err != nil {
		r.DownloadFailures[url] = queue
		return nil, err
	}
	r.DownloadFailures[url] = queue

	content, ok := r.Content[url]
	if !ok {
		return nil, &engine.TransportError{Kind: engine.TransportBadRequest, Op: "download"}
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// Compile-time check that FakeRemote implements engine.Remote.
var _ engine.Remote = (*FakeRemote)(nil)

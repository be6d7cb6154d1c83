package engine

import (
	"context"
	"fmt"
	"sync"
)

// downloadPool runs asset downloads on a bounded set of workers. Workers are
// pure sinks: each fetches the bytes for one asset and commits them through
// the library. Concurrent commits are safe because every write targets a
// distinct pool filename.
type downloadPool struct {
	threads int
	remote  Remote
	library Library
	logger  Logger
}

func newDownloadPool(threads int, remote Remote, library Library, logger Logger) *downloadPool {
	if threads <= 0 {
		threads = 1
	}
	return &downloadPool{threads: threads, remote: remote, library: library, logger: logger}
}

// run downloads and commits every asset, at most p.threads at a time, and
// emits one AssetAdded event per commit. On the first failure the pending
// queue is dropped and in-flight downloads are awaited; the commit itself is
// never aborted mid-write because AddAsset is the atomic unit. The first
// error is returned.
func (p *downloadPool) run(ctx context.Context, assets []Asset, emit func(Event)) error {
	jobs := make(chan Asset)

	var mu sync.Mutex
	var firstErr error
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < p.threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				if failed() {
					continue
				}
				if err := p.download(ctx, a); err != nil {
					fail(err)
					continue
				}
				emit(AssetAdded{UUID: a.UUID, Name: a.Name})
			}
		}()
	}

submit:
	for _, a := range assets {
		if failed() {
			break
		}
		select {
		case jobs <- a:
		case <-ctx.Done():
			fail(ctx.Err())
			break submit
		}
	}
	close(jobs)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return firstErr
}

// download fetches one asset's bytes and commits them to the pool.
func (p *downloadPool) download(ctx context.Context, a Asset) error {
	rc, err := p.remote.Download(ctx, a.DownloadURL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", a.UUID, err)
	}
	defer rc.Close()

	if err := p.library.AddAsset(a, rc); err != nil {
		return fmt.Errorf("committing %s: %w", a.UUID, err)
	}
	p.logger.Debug("asset downloaded", "uuid", a.UUID, "name", a.Name)
	return nil
}

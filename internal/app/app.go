package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jasonwaters/icloud-photos-sync/internal/config"
	"github.com/jasonwaters/icloud-photos-sync/internal/database"
	"github.com/jasonwaters/icloud-photos-sync/internal/engine"
	"github.com/jasonwaters/icloud-photos-sync/internal/icloud"
	"github.com/jasonwaters/icloud-photos-sync/internal/library"
)

// SyncApp is the application layer between the CLI and the sync engine. It
// constructs all dependencies from config, exposes the high-level
// operations, and manages resource lifecycles on Close.
type SyncApp struct {
	cfg     *config.Config
	db      *database.SQLiteDatabase
	store   *library.Store
	client  *icloud.Client
	logger  engine.Logger
	logFile *os.File
	runID   string
}

// NewSyncApp creates a fully wired SyncApp from the given config.
// The caller must call Close when done.
func NewSyncApp(cfg *config.Config) (*SyncApp, error) {
	runID := uuid.New().String()

	slogger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store, err := library.NewStore(cfg.DataDir, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating library store: %w", err)
	}

	client, err := icloud.NewClient(cfg.Remote.BaseURL, cfg.Remote.SessionPath, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating remote client: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating history database: %w", err)
	}

	return &SyncApp{
		cfg:     cfg,
		db:      db,
		store:   store,
		client:  client,
		logger:  logger,
		logFile: logFile,
		runID:   runID,
	}, nil
}

// Sync runs the full pipeline once, records the run in the history store,
// and returns the final summary.
func (a *SyncApp) Sync(ctx context.Context) (engine.Summary, error) {
	rowID, err := a.db.CreateSyncRun(a.runID, time.Now())
	if err != nil {
		return engine.Summary{}, fmt.Errorf("recording sync run: %w", err)
	}

	events := make(chan engine.Event, 64)
	done := make(chan engine.Summary, 1)
	go a.consumeEvents(events, done)

	eng := engine.New(a.client, a.store, a.logger, engine.Options{
		DownloadThreads: a.cfg.Download.Threads,
		MaxRetries:      a.cfg.Download.MaxRetries,
		IgnoreAlbums:    a.cfg.Albums.Ignore,
	}, events)

	_, _, syncErr := eng.Sync(ctx)
	close(events)
	summary := <-done

	status := "success"
	lastError := ""
	if syncErr != nil {
		status = "error"
		lastError = syncErr.Error()
	}
	if err := a.db.FinishSyncRun(rowID, time.Now(), status, summary, lastError); err != nil {
		a.logger.Error("finishing sync run record", "error", err)
	}

	return summary, syncErr
}

// consumeEvents drains the engine's event stream, logging progress and
// capturing the final summary.
func (a *SyncApp) consumeEvents(events <-chan engine.Event, done chan<- engine.Summary) {
	var summary engine.Summary
	for ev := range events {
		switch e := ev.(type) {
		case engine.PhaseChanged:
			a.logger.Info("phase changed", "phase", e.Phase)
		case engine.FetchCompleted:
			a.logger.Info("fetch & load",
				"remote_assets", e.RemoteAssets, "remote_albums", e.RemoteAlbums,
				"local_assets", e.LocalAssets, "local_albums", e.LocalAlbums)
		case engine.DiffCompleted:
			a.logger.Info("diff",
				"assets_add", e.Assets.Add, "assets_delete", e.Assets.Delete,
				"albums_add", e.Albums.Add, "albums_delete", e.Albums.Delete)
		case engine.AssetAdded:
			a.logger.Debug("asset added", "uuid", e.UUID, "name", e.Name)
		case engine.AssetRemoved:
			a.logger.Debug("asset removed", "uuid", e.UUID)
		case engine.AlbumAdded:
			a.logger.Debug("album added", "uuid", e.UUID, "label", e.Label)
		case engine.AlbumRemoved:
			a.logger.Debug("album removed", "uuid", e.UUID)
		case engine.RetryScheduled:
			a.logger.Warn("retrying", "next_attempt", e.NextAttempt, "cause", e.Cause)
		case engine.SyncCompleted:
			summary = e.Summary
		}
	}
	done <- summary
}

// Authenticate performs the signin handshake. codePrompt is invoked when the
// service demands a second factor.
func (a *SyncApp) Authenticate(ctx context.Context, password string, codePrompt func() (string, error)) error {
	err := a.client.Authenticate(ctx, a.cfg.Remote.Username, password)
	if err == nil {
		return nil
	}
	if !errors.Is(err, icloud.ErrMFARequired) {
		return fmt.Errorf("authenticating: %w", err)
	}

	code, err := codePrompt()
	if err != nil {
		return fmt.Errorf("reading code: %w", err)
	}
	if err := a.client.SubmitCode(ctx, code); err != nil {
		return fmt.Errorf("verifying code: %w", err)
	}
	return nil
}

// History returns the most recent sync runs.
func (a *SyncApp) History(limit int) ([]*database.SyncRun, error) {
	return a.db.ListSyncRuns(limit)
}

// Close closes all resources.
func (a *SyncApp) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

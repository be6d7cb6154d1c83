package database

import (
	"fmt"
	"path/filepath"

	"github.com/jasonwaters/icloud-photos-sync/internal/config"
)

// NewDatabaseFromConfig creates the history store based on the database
// config type.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, "history.db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}

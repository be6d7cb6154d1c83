package testutil

import (
	"testing"

	"github.com/jasonwaters/icloud-photos-sync/internal/database"
)

// NewTestDatabase creates an in-memory, migrated history database that is
// closed when the test finishes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()
	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

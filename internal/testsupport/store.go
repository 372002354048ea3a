package testsupport

import (
	"context"
	"testing"

	"speechflow/internal/config"
	"speechflow/internal/store"
)

// MustOpenStore opens the sqlite store for cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.SQLiteStore {
	t.Helper()

	s, err := store.OpenSQLite(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

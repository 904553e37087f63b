package helpers

import (
	"testing"

	"github.com/heyglassy/flyspace/internal/repository"
)

// NewTestSQLiteStore creates an in-memory journal store closed with the test.
func NewTestSQLiteStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

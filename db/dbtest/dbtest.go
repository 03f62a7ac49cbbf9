// Package dbtest opens throwaway in-memory databases for package tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/miragespace/vpsdash/db"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// New returns a gorm handle on a private in-memory SQLite database that is
// closed when the test ends. The pool is pinned to one connection so every
// query sees the same memory database.
func New(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	gdb, err := db.Open(zap.NewNop(), sqlite.Open(dsn), db.Pool{MaxOpen: 1, MaxIdle: 1})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

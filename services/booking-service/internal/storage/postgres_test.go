package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookwell/libs/db"
)

var (
	schemaOnce sync.Once
	schemaErr  error
)

// openPostgres connects to TEST_DATABASE_URL and applies the migration once
// per run. Each caller gets a fresh tenant id so runs never collide.
func openPostgres(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.Open(ctx, url, db.Options{MaxConns: 16})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)

	schemaOnce.Do(func() {
		var schema []byte
		schema, schemaErr = os.ReadFile(filepath.Join("..", "..", "migrations", "001_init.sql"))
		if schemaErr == nil {
			_, schemaErr = pool.Exec(ctx, string(schema))
		}
	})
	if schemaErr != nil {
		t.Fatalf("apply schema: %v", schemaErr)
	}
	return NewPostgresStore(pool), "t-" + uuid.NewString()
}

func TestPostgresStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) (Store, string) {
		return openPostgres(t)
	})
}

func TestPostgresStore_MalformedIDIsNotFound(t *testing.T) {
	s, tenant := openPostgres(t)
	if _, err := s.Get(context.Background(), tenant, "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresStore_ExclusionConstraintIsConflict(t *testing.T) {
	ctx := context.Background()
	s, tenant := openPostgres(t)
	if err := insert(ctx, s, tenantAppt(tenant, 540, 60)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := insert(ctx, s, tenantAppt(tenant, 560, 30))
	if !errors.Is(err, ErrConflict) || !strings.Contains(err.Error(), "appointments_no_overlap") {
		t.Fatalf("expected ErrConflict from the exclusion constraint, got %v", err)
	}
}

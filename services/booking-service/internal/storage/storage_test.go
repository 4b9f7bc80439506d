package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

var day = civil.Date{Year: 2026, Month: time.February, Day: 3}

func appt(start, dur int) *model.Appointment {
	return &model.Appointment{
		TenantID:        "t1",
		ResourceID:      "staff-1",
		Date:            day,
		StartMinute:     start,
		DurationMinutes: dur,
		Status:          model.StatusScheduled,
	}
}

func TestMemoryStore_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Insert(ctx, appt(540, 60)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, _ := s.ListActive(ctx, appt(0, 0).Key()); len(got) != 0 {
		t.Fatalf("rolled back insert must not be visible, got %d", len(got))
	}

	a := appt(540, 60)
	if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, a) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.Get(ctx, "t1", a.ID)
	if err != nil || got.StartMinute != 540 || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected appointment %+v (%v)", got, err)
	}
	if _, err := s.Get(ctx, "other-tenant", a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected tenant isolation, got %v", err)
	}
}

func TestMemoryStore_OverlapGuard(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, appt(540, 60)) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// No lock taken: only the commit-time guard stands between us and a double booking.
	err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, appt(570, 30)) })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, appt(600, 30)) }); err != nil {
		t.Fatalf("adjacent slot must be accepted: %v", err)
	}
}

func TestMemoryStore_TxSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a := appt(540, 30)
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		active, _ := tx.ListActive(ctx, a.Key())
		if len(active) != 1 {
			t.Fatalf("expected own insert visible in tx, got %d", len(active))
		}
		if outside, _ := s.ListActive(ctx, a.Key()); len(outside) != 0 {
			t.Fatalf("uncommitted insert leaked, got %d", len(outside))
		}
		if err := tx.SaveIdempotency(ctx, "t1", "key-1", a.ID); err != nil {
			return err
		}
		id, ok, _ := tx.LookupIdempotency(ctx, "t1", "key-1")
		if !ok || id != a.ID {
			t.Fatalf("expected idempotency record in tx, got %q %v", id, ok)
		}
		return nil
	})
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, start := range []int{600, 540, 720} {
		a := appt(start, 30)
		if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, a) }); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	all, _ := s.List(ctx, ListFilter{TenantID: "t1", From: day, To: day})
	if len(all) != 3 || all[0].StartMinute != 540 || all[2].StartMinute != 720 {
		t.Fatalf("unexpected list order: %+v", all)
	}
	limited, _ := s.List(ctx, ListFilter{TenantID: "t1", Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit 1, got %d", len(limited))
	}
	none, _ := s.List(ctx, ListFilter{TenantID: "t1", From: day.AddDays(1)})
	if len(none) != 0 {
		t.Fatalf("expected date filter to exclude all, got %d", len(none))
	}
}

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := km.Lock(context.Background(), "k"); err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			km.Unlock("k")
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected mutual exclusion, saw %d holders", maxInside)
	}
	if km.size() != 0 {
		t.Fatalf("expected entries to be released, %d left", km.size())
	}
}

func TestKeyedMutex_DistinctKeysDoNotBlock(t *testing.T) {
	km := NewKeyedMutex()
	if err := km.Lock(context.Background(), "a"); err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer km.Unlock("a")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := km.Lock(ctx, "b"); err != nil {
		t.Fatalf("distinct key blocked: %v", err)
	}
	km.Unlock("b")
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	km := NewKeyedMutex()
	_ = km.Lock(context.Background(), "a")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := km.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	km.Unlock("a")
	if km.size() != 0 {
		t.Fatalf("expected cleanup after cancelled waiter, %d left", km.size())
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsConflict(&pgconn.PgError{Code: "23P01"}) || !IsConflict(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected exclusion and unique violations to be conflicts")
	}
	if IsConflict(errors.New("other")) {
		t.Fatal("plain errors are not conflicts")
	}
	if !IsRetryable(&pgconn.PgError{Code: "40001"}) || !IsRetryable(&pgconn.PgError{Code: "40P01"}) {
		t.Fatal("expected serialization failure and deadlock to be retryable")
	}
	if !IsNotFound(pgx.ErrNoRows) {
		t.Fatal("expected ErrNoRows to be not found")
	}
}

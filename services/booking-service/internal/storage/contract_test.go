package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

// opener returns a store and a tenant id that no other test uses.
type opener func(t *testing.T) (Store, string)

func tenantAppt(tenant string, start, dur int) *model.Appointment {
	a := appt(start, dur)
	a.TenantID = tenant
	return a
}

func insert(ctx context.Context, s Store, a *model.Appointment) error {
	return s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Insert(ctx, a) })
}

func testStoreContract(t *testing.T, open opener) {
	t.Run("InsertAndGet", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		a := tenantAppt(tenant, 540, 60)
		if err := insert(ctx, s, a); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if a.ID == "" || a.CreatedAt.IsZero() {
			t.Fatalf("expected id and timestamps, got %+v", a)
		}
		got, err := s.Get(ctx, tenant, a.ID)
		if err != nil || got.StartMinute != 540 || got.Date != day || got.ResourceID != "staff-1" {
			t.Fatalf("unexpected appointment %+v (%v)", got, err)
		}
		if _, err := s.Get(ctx, tenant+"-other", a.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected tenant isolation, got %v", err)
		}
		if _, err := s.Get(ctx, tenant, uuid.NewString()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Rollback", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		boom := errors.New("boom")
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.Insert(ctx, tenantAppt(tenant, 540, 60)); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		if got, _ := s.ListActive(ctx, tenantAppt(tenant, 0, 0).Key()); len(got) != 0 {
			t.Fatalf("rolled back insert must not be visible, got %d", len(got))
		}
	})

	t.Run("OverlapRejectedWithoutLock", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		first := tenantAppt(tenant, 540, 60)
		if err := insert(ctx, s, first); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := insert(ctx, s, tenantAppt(tenant, 570, 30)); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if err := insert(ctx, s, tenantAppt(tenant, 600, 30)); err != nil {
			t.Fatalf("adjacent slot must be accepted: %v", err)
		}
		other := tenantAppt(tenant, 540, 60)
		other.ResourceID = "staff-2"
		if err := insert(ctx, s, other); err != nil {
			t.Fatalf("other resource must be independent: %v", err)
		}

		first.Status = model.StatusCancelled
		if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Update(ctx, first) }); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if err := insert(ctx, s, tenantAppt(tenant, 540, 60)); err != nil {
			t.Fatalf("cancelled appointment must free its slot: %v", err)
		}
	})

	t.Run("UpdateIntoOverlap", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		a, b := tenantAppt(tenant, 540, 60), tenantAppt(tenant, 660, 60)
		for _, x := range []*model.Appointment{a, b} {
			if err := insert(ctx, s, x); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		b.StartMinute = 570
		if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Update(ctx, b) }); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		missing := tenantAppt(tenant, 900, 30)
		missing.ID = uuid.NewString()
		if err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Update(ctx, missing) }); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TxReadsOwnWrites", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			a := tenantAppt(tenant, 540, 30)
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			active, err := tx.ListActive(ctx, a.Key())
			if err != nil {
				return err
			}
			if len(active) != 1 {
				t.Errorf("expected own insert in ListActive, got %d", len(active))
			}
			got, err := tx.GetForUpdate(ctx, tenant, a.ID)
			if err != nil || got.ID != a.ID {
				t.Errorf("expected own insert in GetForUpdate, got %+v (%v)", got, err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}
	})

	t.Run("Idempotency", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		a := tenantAppt(tenant, 540, 30)
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, ok, err := tx.LookupIdempotency(ctx, tenant, "k1"); err != nil || ok {
				t.Errorf("expected unknown key, got ok=%v err=%v", ok, err)
			}
			if err := tx.Insert(ctx, a); err != nil {
				return err
			}
			return tx.SaveIdempotency(ctx, tenant, "k1", a.ID)
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}
		_ = s.InTx(ctx, func(ctx context.Context, tx Tx) error {
			id, ok, err := tx.LookupIdempotency(ctx, tenant, "k1")
			if err != nil || !ok || id != a.ID {
				t.Errorf("expected %s, got %q ok=%v err=%v", a.ID, id, ok, err)
			}
			return nil
		})
	})

	t.Run("ListOrderAndLimit", func(t *testing.T) {
		ctx := context.Background()
		s, tenant := open(t)
		for _, start := range []int{600, 540, 720} {
			if err := insert(ctx, s, tenantAppt(tenant, start, 30)); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		all, err := s.List(ctx, ListFilter{TenantID: tenant, From: day, To: day})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(all) != 3 || all[0].StartMinute != 540 || all[2].StartMinute != 720 {
			t.Fatalf("unexpected list order: %+v", all)
		}
		if limited, _ := s.List(ctx, ListFilter{TenantID: tenant, Limit: 1}); len(limited) != 1 {
			t.Fatalf("expected limit 1, got %d", len(limited))
		}
	})

	t.Run("LockExcludesOtherTx", func(t *testing.T) {
		s, tenant := open(t)
		name := tenant + "/lock"
		held, release := make(chan struct{}), make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
				if err := tx.Lock(ctx, name); err != nil {
					return err
				}
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		err := s.InTx(ctx, func(ctx context.Context, tx Tx) error { return tx.Lock(ctx, name) })
		if err == nil {
			t.Fatal("expected the second lock to wait until its deadline")
		}
		close(release)
		if err := <-done; err != nil {
			t.Fatalf("holder: %v", err)
		}
		if err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error { return tx.Lock(ctx, name) }); err != nil {
			t.Fatalf("lock after release: %v", err)
		}
	})

	t.Run("LockOrderIsSorted", func(t *testing.T) {
		s, tenant := open(t)
		a, b := tenant+"/a", tenant+"/b"
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 10; i++ {
			names := []string{a, b}
			if i%2 == 1 {
				names = []string{b, a}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				errs <- s.InTx(ctx, func(ctx context.Context, tx Tx) error {
					if err := tx.Lock(ctx, names...); err != nil {
						return err
					}
					time.Sleep(5 * time.Millisecond)
					return nil
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("opposite lock orders must not deadlock: %v", err)
			}
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) (Store, string) {
		return NewMemoryStore(), "t-" + uuid.NewString()
	})
}

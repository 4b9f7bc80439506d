package policy

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

type MemoryStore struct {
	mu       sync.RWMutex
	rules    map[string]model.BookingRule
	windows  map[string][]model.AvailabilityWindow
	services map[string]map[string]model.Service
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    map[string]model.BookingRule{},
		windows:  map[string][]model.AvailabilityWindow{},
		services: map[string]map[string]model.Service{},
	}
}

func (s *MemoryStore) Rule(_ context.Context, tenantID string) (model.BookingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[tenantID]
	if !ok {
		return model.DefaultRule(tenantID), nil
	}
	return cloneRule(r), nil
}

func (s *MemoryStore) PutRule(_ context.Context, rule model.BookingRule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.TenantID] = cloneRule(rule)
	return nil
}

func (s *MemoryStore) Windows(_ context.Context, tenantID string) ([]model.AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.windows[tenantID]), nil
}

func (s *MemoryStore) AddWindow(_ context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error) {
	if err := ValidateWindow(w); err != nil {
		return model.AvailabilityWindow{}, err
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.TenantID] = append(s.windows[w.TenantID], w)
	return w, nil
}

func (s *MemoryStore) DeleteWindow(_ context.Context, tenantID, windowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.windows[tenantID]
	i := slices.IndexFunc(list, func(w model.AvailabilityWindow) bool { return w.ID == windowID })
	if i < 0 {
		return ErrWindowNotFound
	}
	s.windows[tenantID] = slices.Delete(slices.Clone(list), i, i+1)
	return nil
}

func (s *MemoryStore) Service(_ context.Context, tenantID, serviceID string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[tenantID][serviceID]
	if !ok {
		return model.Service{}, ErrServiceNotFound
	}
	return svc, nil
}

func (s *MemoryStore) PutService(_ context.Context, svc model.Service) error {
	if err := ValidateService(svc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.services[svc.TenantID] == nil {
		s.services[svc.TenantID] = map[string]model.Service{}
	}
	s.services[svc.TenantID][svc.ID] = svc
	return nil
}

func cloneRule(r model.BookingRule) model.BookingRule {
	r.BlackoutDates = slices.Clone(r.BlackoutDates)
	if r.Capabilities != nil {
		caps := make(map[string]bool, len(r.Capabilities))
		for k, v := range r.Capabilities {
			caps[k] = v
		}
		r.Capabilities = caps
	}
	return r
}

package preferences

import (
	"context"
	"fmt"
)

// Service applies defaults, seeding and field fallbacks on top of a Store.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns the subject's preferences, or Defaults when none are stored.
func (s *Service) Get(ctx context.Context, subject string) (Preferences, error) {
	p, ok, err := s.store.Get(ctx, subject)
	if err != nil {
		return Preferences{}, fmt.Errorf("get preferences: %w", err)
	}
	if !ok {
		return Defaults(), nil
	}
	return p, nil
}

// Update replaces the subject's preferences. Unset fields take their defaults.
func (s *Service) Update(ctx context.Context, subject string, p Preferences) (Preferences, error) {
	p = p.WithFallbacks()
	if err := s.store.Put(ctx, subject, p); err != nil {
		return Preferences{}, fmt.Errorf("put preferences: %w", err)
	}
	return p, nil
}

// EnsureSeeded stores Seed for a subject that logs in for the first time.
// It reports whether a value was written.
func (s *Service) EnsureSeeded(ctx context.Context, subject string) (bool, error) {
	if seeder, ok := s.store.(Seeder); ok {
		written, err := seeder.PutIfAbsent(ctx, subject, Seed())
		if err != nil {
			return false, fmt.Errorf("seed preferences: %w", err)
		}
		return written, nil
	}

	_, found, err := s.store.Get(ctx, subject)
	if err != nil {
		return false, fmt.Errorf("seed preferences: %w", err)
	}
	if found {
		return false, nil
	}
	if err := s.store.Put(ctx, subject, Seed()); err != nil {
		return false, fmt.Errorf("seed preferences: %w", err)
	}
	return true, nil
}

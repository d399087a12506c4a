package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
)

// settingsStore is the single runtime owner of the persisted settings.
// Updates are normalized, written to disk first, and only then installed,
// so the in-memory copy never gets ahead of a failed write.
type settingsStore struct {
	path     string
	logger   *log.Logger
	onChange func(config.Settings)

	mu      sync.Mutex
	current config.Settings
}

func (s *settingsStore) Current() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *settingsStore) Update(ctx context.Context, mutate func(*config.Settings)) (config.Settings, error) {
	s.mu.Lock()
	next := s.current
	mutate(&next)
	next = next.Normalized()
	if err := config.Save(ctx, s.path, next); err != nil {
		current := s.current
		s.mu.Unlock()
		return current, fmt.Errorf("persist settings: %w", err)
	}
	s.current = next
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(next)
	}
	return next, nil
}

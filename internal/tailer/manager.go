package tailer

import (
	"context"
	"fmt"
)

// Manager owns the followers for every configured file and starts and
// stops them as a group.
type Manager struct {
	followers []*Follower
}

// NewManager builds one follower per config entry. On any failure the
// already-created followers are stopped and the error is returned.
func NewManager(ingestor Ingestor, configs []Config) (*Manager, error) {
	m := &Manager{}
	for _, cfg := range configs {
		f, err := NewFollower(ingestor, cfg)
		if err != nil {
			m.Stop()
			return nil, fmt.Errorf("tail %s: %w", cfg.Path, err)
		}
		m.followers = append(m.followers, f)
	}
	return m, nil
}

// Start starts every follower.
func (m *Manager) Start(ctx context.Context) error {
	for _, f := range m.followers {
		if err := f.Start(ctx); err != nil {
			m.Stop()
			return fmt.Errorf("start tail %s: %w", f.Path(), err)
		}
	}
	return nil
}

// Stop stops every follower.
func (m *Manager) Stop() {
	for _, f := range m.followers {
		f.Stop()
	}
}

// Len returns the number of managed followers.
func (m *Manager) Len() int {
	return len(m.followers)
}

// Stats reports the progress of every follower.
func (m *Manager) Stats() []Stats {
	stats := make([]Stats, 0, len(m.followers))
	for _, f := range m.followers {
		stats = append(stats, f.Stats())
	}
	return stats
}

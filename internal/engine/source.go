package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// StaticSource serves a fixed task list, keyed by user. It backs tests and
// deployments where the tracker integration runs out of process and syncs
// tasks through a seed file.
type StaticSource struct {
	mu    sync.RWMutex
	tasks map[string][]models.Task
}

// NewStaticSource creates an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{tasks: make(map[string][]models.Task)}
}

// NewStaticSourceFromFile loads a JSON seed mapping user IDs to task lists.
func NewStaticSourceFromFile(path string) (*StaticSource, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task seed: %w", err)
	}
	var tasks map[string][]models.Task
	if err := json.Unmarshal(body, &tasks); err != nil {
		return nil, fmt.Errorf("parsing task seed: %w", err)
	}
	return &StaticSource{tasks: tasks}, nil
}

// SetTasks replaces the task list for a user.
func (s *StaticSource) SetTasks(userID string, tasks []models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[userID] = tasks
}

// ActiveTasks implements TaskSource.
func (s *StaticSource) ActiveTasks(_ context.Context, userID string) ([]models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, len(s.tasks[userID]))
	copy(out, s.tasks[userID])
	return out, nil
}

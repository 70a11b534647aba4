// Package history stores answered queries so earlier turns can be listed
// and replayed.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/tinfoilsh/reasoning-search/search"
)

// DefaultListLimit caps List when callers pass a non-positive limit
const DefaultListLimit = 20

// ErrNotFound is returned by Get for unknown IDs
var ErrNotFound = errors.New("turn not found")

// Turn is one answered query
type Turn struct {
	ID          string          `json:"id"`
	Query       string          `json:"query"`
	Results     []search.Result `json:"results"`
	Content     string          `json:"content"`
	Reasoning   string          `json:"reasoning"`
	FinalAnswer string          `json:"final_answer"`
	Provider    string          `json:"provider"`
	Model       string          `json:"model"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store persists turns
type Store interface {
	Save(ctx context.Context, turn *Turn) error
	List(ctx context.Context, limit int) ([]Turn, error)
	Get(ctx context.Context, id string) (*Turn, error)
	Close() error
}

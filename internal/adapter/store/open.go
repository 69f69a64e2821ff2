package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/arturoeanton/runcoach/internal/port"
)

// MemoryURL selects the in-process store.
const MemoryURL = "memory://"

// Open returns the store selected by databaseURL. The Postgres schema is
// applied when migrate is true.
func Open(ctx context.Context, databaseURL string, migrate bool) (port.Store, error) {
	if strings.HasPrefix(databaseURL, MemoryURL) {
		return NewMemoryStore(), nil
	}
	pg, err := NewPostgresStore(databaseURL)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	return pg, nil
}

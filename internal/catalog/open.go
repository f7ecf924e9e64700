package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/imageq/internal/domain"
)

const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// OpenStore builds the store for backend. BackendNone yields a nil store
// and a no-op close func.
func OpenStore(ctx context.Context, backend string, httpCfg HTTPConfig, dsn string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendNone:
		return nil, noop, nil
	case BackendMemory:
		return NewMemoryStore(), noop, nil
	case BackendHTTP:
		store, err := NewHTTPStore(httpCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		return store, noop, nil
	case BackendPostgres:
		store, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unsupported catalog backend %q", domain.ErrConfiguration, backend)
	}
}

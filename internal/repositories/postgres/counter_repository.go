package postgres

import (
	"context"
	"strings"

	"github.com/hanko-field/storefront/internal/platform/database"
	"github.com/hanko-field/storefront/internal/repositories"
)

const nextCounterSQL = `INSERT INTO counters (scope, name, value) VALUES (?, ?, 1) ` +
	`ON CONFLICT (scope, name) DO UPDATE SET value = counters.value + 1 RETURNING value`

// CounterRepository implements repositories.CounterRepository with a single upsert per call.
type CounterRepository struct {
	provider *database.Provider
}

// NewCounterRepository constructs a counter repository.
func NewCounterRepository(provider *database.Provider) *CounterRepository {
	return &CounterRepository{provider: provider}
}

func (r *CounterRepository) Next(ctx context.Context, scope, name string) (int64, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" || name == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter scope and name are required", nil)
	}
	var value int64
	if err := r.provider.DB(ctx).Raw(nextCounterSQL, scope, name).Scan(&value).Error; err != nil {
		return 0, database.WrapError("counters.next", err)
	}
	return value, nil
}

package providers

import (
	"go.od2.network/hive/pkg/idempotency"
	"go.od2.network/hive/pkg/store"
)

// NewIdempotencyStore builds the admission-time dedup store.
func NewIdempotencyStore(s *store.Store) *idempotency.Store {
	return idempotency.New(s)
}

// Package idempotency implements admission-time deduplication (§4.F): an
// optional client-supplied key maps to a previously-returned job or batch
// identifier for a fixed TTL window. It is deliberately the smallest
// package in the core: one lookup, one best-effort store, no retry logic
// of its own, and a single-purpose Redis wrapper type rather than a
// do-it-all client.
package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.od2.network/hive/pkg/store"
)

// Scope distinguishes single-job admission from bulk (batch) admission, so
// the same client key can be reused across both call shapes without
// colliding.
type Scope string

const (
	ScopeSingle Scope = "single"
	ScopeBulk   Scope = "bulk"
)

// Store consults and records idempotency mappings.
type Store struct {
	backing *store.Store
}

// New builds an idempotency Store over the shared persistence adapter.
func New(backing *store.Store) *Store {
	return &Store{backing: backing}
}

func key(scope Scope, clientKey string) string {
	return fmt.Sprintf("idempotency:%s:%s", scope, clientKey)
}

// BulkRecord is the value cached for bulk (batch) admissions.
type BulkRecord struct {
	BatchID string   `json:"batchId"`
	JobIDs  []string `json:"jobIds"`
}

// LookupSingle returns a previously admitted job ID for (scope=single,
// clientKey), if any.
func (s *Store) LookupSingle(ctx context.Context, clientKey string) (jobID string, hit bool, err error) {
	if clientKey == "" {
		return "", false, nil
	}
	v, ok, err := s.backing.Get(ctx, key(ScopeSingle, clientKey))
	if err != nil || !ok {
		return "", false, err
	}
	return v, true, nil
}

// StoreSingle records a (scope=single, clientKey) -> jobID mapping with
// TTL. Per §4.F, this must be called only after the job has been created
// successfully.
func (s *Store) StoreSingle(ctx context.Context, clientKey, jobID string, ttl time.Duration) error {
	if clientKey == "" {
		return nil
	}
	_, err := s.backing.SetNXExpire(ctx, key(ScopeSingle, clientKey), jobID, ttl)
	return err
}

// LookupBulk returns a previously admitted batch+jobs for (scope=bulk,
// clientKey), if any.
func (s *Store) LookupBulk(ctx context.Context, clientKey string) (rec BulkRecord, hit bool, err error) {
	if clientKey == "" {
		return BulkRecord{}, false, nil
	}
	v, ok, err := s.backing.Get(ctx, key(ScopeBulk, clientKey))
	if err != nil || !ok {
		return BulkRecord{}, false, err
	}
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return BulkRecord{}, false, fmt.Errorf("idempotency: corrupt bulk record for key %q: %w", clientKey, err)
	}
	return rec, true, nil
}

// StoreBulk records a (scope=bulk, clientKey) -> {batchId,jobIds} mapping
// with TTL.
func (s *Store) StoreBulk(ctx context.Context, clientKey string, rec BulkRecord, ttl time.Duration) error {
	if clientKey == "" {
		return nil
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.backing.SetNXExpire(ctx, key(ScopeBulk, clientKey), string(buf), ttl)
	return err
}

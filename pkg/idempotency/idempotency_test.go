package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.od2.network/hive/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s, err := store.New(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLookupSingleMiss(t *testing.T) {
	ctx := context.Background()
	idem := New(newTestStore(t))

	_, hit, err := idem.LookupSingle(ctx, "some-key")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestStoreThenLookupSingle(t *testing.T) {
	ctx := context.Background()
	idem := New(newTestStore(t))

	require.NoError(t, idem.StoreSingle(ctx, "key1", "job-1", time.Minute))

	id, hit, err := idem.LookupSingle(ctx, "key1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "job-1", id)
}

func TestEmptyKeyIsAlwaysAMiss(t *testing.T) {
	ctx := context.Background()
	idem := New(newTestStore(t))

	require.NoError(t, idem.StoreSingle(ctx, "", "job-1", time.Minute))
	_, hit, err := idem.LookupSingle(ctx, "")
	require.NoError(t, err)
	require.False(t, hit)
}

func TestBulkRoundTrip(t *testing.T) {
	ctx := context.Background()
	idem := New(newTestStore(t))

	rec := BulkRecord{BatchID: "batch-1", JobIDs: []string{"j1", "j2"}}
	require.NoError(t, idem.StoreBulk(ctx, "bulk-key", rec, time.Minute))

	got, hit, err := idem.LookupBulk(ctx, "bulk-key")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, rec, got)
}

func TestSingleAndBulkScopesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	idem := New(newTestStore(t))

	require.NoError(t, idem.StoreSingle(ctx, "shared-key", "job-single", time.Minute))
	require.NoError(t, idem.StoreBulk(ctx, "shared-key", BulkRecord{BatchID: "b", JobIDs: []string{"j"}}, time.Minute))

	id, hit, err := idem.LookupSingle(ctx, "shared-key")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "job-single", id)

	rec, hit, err := idem.LookupBulk(ctx, "shared-key")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, "b", rec.BatchID)
}

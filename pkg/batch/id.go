package batch

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// newBatchID mints a batch_<epoch-ms>_<random> identifier: the timestamp
// keeps batches sortable by creation order at a glance, xid supplies the
// random suffix without a global counter.
func newBatchID() string {
	return fmt.Sprintf("batch_%d_%s", time.Now().UnixMilli(), xid.New().String())
}

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
)

// ListRequest is the input to List, §4.D "Status listing".
type ListRequest struct {
	Status    Status // zero value means "all statuses"
	Limit     int
	PageToken string
}

// ListResult carries the page plus the opaque cursor for the next page.
// NextPageToken is "" when there is no further page.
type ListResult struct {
	Items         []*Job
	NextPageToken string
}

type cursor struct {
	Offset int `json:"offset"`
}

// decodeCursor implements §4.D/§8: "Invalid cursors reset to offset 0 (no
// error)."
func decodeCursor(token string) int {
	if token == "" {
		return 0
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.Offset < 0 {
		return 0
	}
	return c.Offset
}

func encodeCursor(offset int) string {
	raw, _ := json.Marshal(cursor{Offset: offset})
	return base64.StdEncoding.EncodeToString(raw)
}

// maxListScanMultiplier bounds how much of the creation-order index List
// will scan past a single page when a status filter is active, trading
// perfect cursor continuity under heavy filtering for a bounded number of
// Redis round trips per call.
const maxListScanMultiplier = 10

// List returns jobs ordered by CreatedAt descending (§4.D), tolerating
// TTL-evicted members of the creation index by skipping them.
func (q *Queue) List(ctx context.Context, req ListRequest) (ListResult, error) {
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := decodeCursor(req.PageToken)
	maxScan := limit * maxListScanMultiplier

	items := make([]*Job, 0, limit)
	consumed := 0
	for consumed < maxScan && len(items) < limit {
		batchSize := limit
		ids, err := q.Store.Redis.ZRevRange(ctx, q.Keys.JobsIndex, int64(offset+consumed), int64(offset+consumed+batchSize-1)).Result()
		if err != nil {
			return ListResult{}, err
		}
		if len(ids) == 0 {
			consumed = maxScan // nothing left in the index at all
			break
		}
		for _, id := range ids {
			consumed++
			job, err := q.loadJob(ctx, id)
			if err != nil {
				continue // TTL-evicted; tolerate per §4.D
			}
			if req.Status != "" && job.Status != req.Status {
				continue
			}
			items = append(items, job)
			if len(items) >= limit {
				break
			}
		}
	}

	result := ListResult{Items: items}
	nextOffset := offset + consumed
	if len(items) >= limit {
		result.NextPageToken = encodeCursor(nextOffset)
	}
	return result, nil
}

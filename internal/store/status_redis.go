package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Batch job states.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateCancelled = "cancelled"
	StateFailed    = "failed"
)

// ItemStatus is the outcome of one file in a batch.
type ItemStatus struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// BatchStatus is the progress of one batch auto-crop job.
type BatchStatus struct {
	Status    string       `json:"status"`
	Total     int          `json:"total"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Message   string       `json:"message"`
	Start     *time.Time   `json:"start_time,omitempty"`
	End       *time.Time   `json:"end_time,omitempty"`
	Items     []ItemStatus `json:"items,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (s BatchStatus) Done() bool {
	switch s.Status {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}

// RedisStatus stores batch status as a hash at batch:<id>:status.
type RedisStatus struct {
	client *redis.Client
	keyNS  string
	ttl    time.Duration
}

func NewRedisStatus(redisURL string) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return NewStatus(c), nil
}

// NewStatus wraps an existing client. Entries expire after seven days.
func NewStatus(c *redis.Client) *RedisStatus {
	return &RedisStatus{client: c, keyNS: "batch", ttl: 7 * 24 * time.Hour}
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

func (s *RedisStatus) Set(ctx context.Context, jobID string, st BatchStatus) error {
	m := map[string]interface{}{
		"status":    st.Status,
		"total":     st.Total,
		"processed": st.Processed,
		"failed":    st.Failed,
		"message":   st.Message,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Items != nil {
		b, err := json.Marshal(st.Items)
		if err != nil {
			return err
		}
		m["items"] = string(b)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(jobID), m)
	pipe.Expire(ctx, s.key(jobID), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (BatchStatus, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return BatchStatus{}, false, err
	}
	if len(res) == 0 {
		return BatchStatus{}, false, nil
	}
	st := BatchStatus{Status: res["status"], Message: res["message"]}
	st.Total, _ = strconv.Atoi(res["total"])
	st.Processed, _ = strconv.Atoi(res["processed"])
	st.Failed, _ = strconv.Atoi(res["failed"])
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["items"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Items)
	}
	return st, true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }

// Client returns the underlying Redis client
func (s *RedisStatus) Client() *redis.Client { return s.client }

package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the lifecycle state of a refresh job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the job has finished, successfully or not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the polled progress record of one batch refresh run.
type Job struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	BatchID   int64     `json:"batchId"`
	Status    Status    `json:"status"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ErrJobNotFound indicates an unknown or expired job identifier.
var ErrJobNotFound = errors.New("batch: job not found")

// JobStore persists job progress for polling clients. One writer (the
// orchestrator loop) updates while many readers poll.
type JobStore interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
}

// NewJobID returns a random job identifier.
func NewJobID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// MemoryJobStore keeps job state in process memory. Progress is lost on
// restart; the redis store exists for deployments that need better.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

// NewMemoryJobStore returns an empty in-memory store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]Job)}
}

// Put stores or replaces the job record.
func (s *MemoryJobStore) Put(_ context.Context, job Job) error {
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return nil
}

// Get returns the job record by id.
func (s *MemoryJobStore) Get(_ context.Context, jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

// RedisJobStore keeps job state in redis so progress survives a process
// restart and is visible across instances.
type RedisJobStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisJobStore wires a redis client into a job store.
func NewRedisJobStore(rdb *redis.Client, ttl time.Duration) *RedisJobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStore{rdb: rdb, prefix: "bookwatch:job:", ttl: ttl}
}

// Put serializes the job record under its key with the store TTL.
func (s *RedisJobStore) Put(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.rdb.Set(ctx, s.prefix+job.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// Get loads and deserializes the job record.
func (s *RedisJobStore) Get(ctx context.Context, jobID string) (Job, error) {
	payload, err := s.rdb.Get(ctx, s.prefix+jobID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("load job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

var (
	_ JobStore = (*MemoryJobStore)(nil)
	_ JobStore = (*RedisJobStore)(nil)
)

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/revenueinsights/bookshelf-sub000/internal/batch"
	"github.com/revenueinsights/bookshelf-sub000/internal/storage"
)

type stubBooks struct{}

func (stubBooks) GetBook(context.Context, int64, string) (storage.BookRecord, error) {
	return storage.BookRecord{}, storage.ErrNotFound
}

func (stubBooks) GetBookByID(context.Context, int64, int64) (storage.BookRecord, error) {
	return storage.BookRecord{}, storage.ErrNotFound
}

func (stubBooks) ListBatchBooks(context.Context, int64, int64) ([]storage.BookRecord, error) {
	return nil, nil
}

func (stubBooks) ListRecentBooks(context.Context, int64, int) ([]storage.BookRecord, error) {
	return nil, nil
}

func (stubBooks) UpdateBookPricing(context.Context, storage.BookRecord) error { return nil }

type stubBatches struct{}

func (stubBatches) GetBatch(_ context.Context, userID, batchID int64) (storage.BatchSummary, error) {
	return storage.BatchSummary{ID: batchID, UserID: userID}, nil
}

func (stubBatches) UpdateBatchSummary(context.Context, storage.BatchSummary) error { return nil }

type stubRefresher struct{}

func (stubRefresher) RefreshBook(_ context.Context, _ int64, book storage.BookRecord) (storage.BookRecord, error) {
	return book, nil
}

func newTestServer(jobs batch.JobStore) *Server {
	orch := batch.NewOrchestrator(stubBooks{}, stubBatches{}, stubRefresher{}, jobs, batch.Options{}, zerolog.Nop())
	return NewServer(jobs, orch, zerolog.Nop())
}

func TestJobStatusFound(t *testing.T) {
	jobs := batch.NewMemoryJobStore()
	_ = jobs.Put(context.Background(), batch.Job{
		ID:        "abc123",
		Status:    batch.StatusRunning,
		Total:     5,
		Processed: 2,
		StartedAt: time.Now(),
	})

	s := newTestServer(jobs)
	req := httptest.NewRequest(http.MethodGet, "/jobs/abc123", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body jobStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != batch.StatusRunning || body.Total != 5 || body.Processed != 2 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	s := newTestServer(batch.NewMemoryJobStore())
	req := httptest.NewRequest(http.MethodGet, "/jobs/missing", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", rec.Code)
	}
}

func TestTriggerRefreshAccepted(t *testing.T) {
	jobs := batch.NewMemoryJobStore()
	s := newTestServer(jobs)

	req := httptest.NewRequest(http.MethodPost, "/users/1/batches/9/refresh", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["jobId"] == "" {
		t.Fatal("response must carry a job id")
	}

	if _, err := jobs.Get(context.Background(), body["jobId"]); err != nil {
		t.Fatalf("job should be registered: %v", err)
	}
}

func TestTriggerRefreshRejectsBadIDs(t *testing.T) {
	s := newTestServer(batch.NewMemoryJobStore())
	req := httptest.NewRequest(http.MethodPost, "/users/abc/batches/9/refresh", strings.NewReader(""))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/revenueinsights/bookshelf-sub000/internal/pricing"
	"github.com/revenueinsights/bookshelf-sub000/internal/storage"
)

func zerologNop() zerolog.Logger { return zerolog.Nop() }

type fakeBookStore struct {
	books   []storage.BookRecord
	listErr error
}

func (s *fakeBookStore) GetBook(context.Context, int64, string) (storage.BookRecord, error) {
	return storage.BookRecord{}, storage.ErrNotFound
}

func (s *fakeBookStore) GetBookByID(context.Context, int64, int64) (storage.BookRecord, error) {
	return storage.BookRecord{}, storage.ErrNotFound
}

func (s *fakeBookStore) ListBatchBooks(context.Context, int64, int64) ([]storage.BookRecord, error) {
	return s.books, s.listErr
}

func (s *fakeBookStore) ListRecentBooks(context.Context, int64, int) ([]storage.BookRecord, error) {
	return s.books, nil
}

func (s *fakeBookStore) UpdateBookPricing(context.Context, storage.BookRecord) error {
	return nil
}

type fakeBatchStore struct {
	mu       sync.Mutex
	batchErr error
	summary  *storage.BatchSummary
}

func (s *fakeBatchStore) GetBatch(_ context.Context, userID, batchID int64) (storage.BatchSummary, error) {
	if s.batchErr != nil {
		return storage.BatchSummary{}, s.batchErr
	}
	return storage.BatchSummary{ID: batchID, UserID: userID, Name: "shelf"}, nil
}

func (s *fakeBatchStore) UpdateBatchSummary(_ context.Context, summary storage.BatchSummary) error {
	s.mu.Lock()
	s.summary = &summary
	s.mu.Unlock()
	return nil
}

func (s *fakeBatchStore) persisted() *storage.BatchSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

type scriptedRefresher struct {
	mu      sync.Mutex
	failFor string
	calls   int
}

func (r *scriptedRefresher) RefreshBook(_ context.Context, _ int64, book storage.BookRecord) (storage.BookRecord, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if book.ISBN == r.failFor {
		return storage.BookRecord{}, errors.New("upstream exploded")
	}
	book.CurrentPrice = decimal.NewFromInt(20)
	book.PercentOfHigh = decimal.NewFromInt(80)
	book.Tier = pricing.TierHighValue
	return book, nil
}

func bookFixtures(isbns ...string) []storage.BookRecord {
	books := make([]storage.BookRecord, 0, len(isbns))
	for i, isbn := range isbns {
		books = append(books, storage.BookRecord{ID: int64(i + 1), UserID: 1, ISBN: isbn})
	}
	return books
}

func waitTerminal(t *testing.T, jobs JobStore, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := jobs.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get job: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return Job{}
}

func noDelaySleeper(_ context.Context, _ time.Duration) error { return nil }

func TestBatchPartialFailureStillCompletes(t *testing.T) {
	books := bookFixtures("isbn-1", "isbn-2", "isbn-3", "isbn-4", "isbn-5")
	jobs := NewMemoryJobStore()
	batches := &fakeBatchStore{}
	refresher := &scriptedRefresher{failFor: "isbn-3"}

	o := NewOrchestrator(&fakeBookStore{books: books}, batches, refresher, jobs, Options{}, zerologNop())
	o.sleep = noDelaySleeper

	jobID, err := o.Run(context.Background(), 1, 9)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	job := waitTerminal(t, jobs, jobID)
	if job.Status != StatusCompleted {
		t.Fatalf("partial failure must still complete, got %s (%s)", job.Status, job.Error)
	}
	if job.Processed != 5 || job.Total != 5 {
		t.Fatalf("want processed=5 total=5, got %d/%d", job.Processed, job.Total)
	}

	summary := batches.persisted()
	if summary == nil {
		t.Fatal("summary must be persisted on completion")
	}
	if summary.TotalBooks != 4 {
		t.Fatalf("only 4 successful updates should be aggregated, got %d", summary.TotalBooks)
	}
	if summary.HighValueCount != 4 {
		t.Fatalf("want 4 high value books, got %d", summary.HighValueCount)
	}
	if !summary.TotalValue.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("want total value 80, got %s", summary.TotalValue)
	}
	if summary.TopISBN == "isbn-3" {
		t.Fatal("failed item must not win top price")
	}
}

func TestBatchMissingBatchFailsBeforeLoop(t *testing.T) {
	jobs := NewMemoryJobStore()
	batches := &fakeBatchStore{batchErr: storage.ErrNotFound}

	o := NewOrchestrator(&fakeBookStore{}, batches, &scriptedRefresher{}, jobs, Options{}, zerologNop())
	o.sleep = noDelaySleeper

	jobID, err := o.Run(context.Background(), 1, 404)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	job := waitTerminal(t, jobs, jobID)
	if job.Status != StatusFailed {
		t.Fatalf("missing batch must fail the job, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatal("failed job must carry an error message")
	}
}

func TestBatchItemsAreSpaced(t *testing.T) {
	books := bookFixtures("a", "b", "c")
	jobs := NewMemoryJobStore()

	var sleeps int
	o := NewOrchestrator(&fakeBookStore{books: books}, &fakeBatchStore{}, &scriptedRefresher{}, jobs, Options{ItemDelay: time.Minute}, zerologNop())
	o.sleep = func(_ context.Context, d time.Duration) error {
		if d != time.Minute {
			t.Errorf("want configured delay, got %s", d)
		}
		sleeps++
		return nil
	}

	jobID, err := o.Run(context.Background(), 1, 9)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitTerminal(t, jobs, jobID)

	if sleeps != 2 {
		t.Fatalf("n items need n-1 delays, got %d", sleeps)
	}
}

func TestMemoryJobStoreConcurrentReads(t *testing.T) {
	store := NewMemoryJobStore()
	job := Job{ID: "j1", Status: StatusRunning}
	if err := store.Put(context.Background(), job); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				update := job
				update.Processed = n
				_ = store.Put(context.Background(), update)
				return
			}
			if _, err := store.Get(context.Background(), "j1"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}(i)
	}
	wg.Wait()
}

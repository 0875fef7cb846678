package broker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shadowfetch/shadowfetch/internal/models"
)

// fakeFetcher lets tests script a sequence of Fetch outcomes without a real
// browser, mirroring the browserlife test-seam pattern used elsewhere.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	outcome func(call int) (*models.Artifact, *models.FetchError)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url, sessionKey string) (*models.Artifact, *models.FetchError) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.outcome(call)
}

func newTestBroker(t *testing.T, engine Fetcher, cfg Config) *Broker {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store, engine, cfg, nil, nil)
}

func waitForTerminal(t *testing.T, b *Broker, jobID string, timeout time.Duration) *models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := b.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if job != nil && (job.Status == models.StatusCompleted || job.Status == models.StatusFailed) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal status within %v", jobID, timeout)
	return nil
}

func TestHappyPathJobCompletes(t *testing.T) {
	fake := &fakeFetcher{outcome: func(call int) (*models.Artifact, *models.FetchError) {
		return &models.Artifact{Metadata: models.Metadata{Title: "Example Domain"}, Markdown: "# Example Domain"}, nil
	}}
	b := newTestBroker(t, fake, Config{Concurrency: 1, MaxRetries: 3})
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	id, err := b.Submit(ctx, "https://example.com", "", "", 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForTerminal(t, b, id, 2*time.Second)
	if job.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", job.Status)
	}
	if job.Result == nil || job.Result.Metadata.Title != "Example Domain" {
		t.Errorf("Result = %+v, want Title=Example Domain", job.Result)
	}
	if job.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", job.AttemptCount)
	}
}

func TestNonRetryableFailureStopsAfterOneAttempt(t *testing.T) {
	fake := &fakeFetcher{outcome: func(call int) (*models.Artifact, *models.FetchError) {
		return nil, &models.FetchError{Message: "not found", Code: models.HTTPCode(404), Retryable: false}
	}}
	b := newTestBroker(t, fake, Config{Concurrency: 1, MaxRetries: 3})
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	id, err := b.Submit(ctx, "https://example.com/missing", "", "", 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForTerminal(t, b, id, 2*time.Second)
	if job.Status != models.StatusFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if job.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want exactly 1 for a non-retryable error", job.AttemptCount)
	}
}

func TestRetryableThenSuccessCompletesOnSecondAttempt(t *testing.T) {
	fake := &fakeFetcher{outcome: func(call int) (*models.Artifact, *models.FetchError) {
		if call == 1 {
			return nil, &models.FetchError{Message: "timed out", Code: models.CodeTimeout, Retryable: true}
		}
		return &models.Artifact{Markdown: "ok"}, nil
	}}
	b := newTestBroker(t, fake, Config{Concurrency: 1, MaxRetries: 3})
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	id, err := b.Submit(ctx, "https://example.com/flaky", "", "", 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// First retry waits 2^1 + U(0,1) seconds, so allow enough headroom.
	job := waitForTerminal(t, b, id, 6*time.Second)
	if job.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", job.Status)
	}
	if job.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", job.AttemptCount)
	}
}

func TestRetryBoundStopsAtMaxRetriesPlusOne(t *testing.T) {
	var calls int32
	fake := &fakeFetcher{outcome: func(call int) (*models.Artifact, *models.FetchError) {
		atomic.AddInt32(&calls, 1)
		return nil, &models.FetchError{Message: "always times out", Code: models.CodeTimeout, Retryable: true}
	}}
	b := newTestBroker(t, fake, Config{Concurrency: 1, MaxRetries: 1})
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	id, err := b.Submit(ctx, "https://example.com/always-down", "", "", 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForTerminal(t, b, id, 6*time.Second)
	if job.Status != models.StatusFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if job.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want MaxRetries+1 = 2", job.AttemptCount)
	}
}

func TestSubscribeObservesMonotoneStatusSequence(t *testing.T) {
	fake := &fakeFetcher{outcome: func(call int) (*models.Artifact, *models.FetchError) {
		return &models.Artifact{Markdown: "ok"}, nil
	}}
	b := newTestBroker(t, fake, Config{Concurrency: 1, MaxRetries: 3})
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	id, err := b.Submit(ctx, "https://example.com", "", "", 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	var statuses []string
	deadline := time.After(2 * time.Second)
collect:
	for {
		select {
		case ev := <-ch:
			if ev.JobID != id {
				continue
			}
			statuses = append(statuses, ev.Status)
			if ev.Status == string(models.StatusCompleted) || ev.Status == string(models.StatusFailed) {
				break collect
			}
		case <-deadline:
			break collect
		}
	}

	if len(statuses) < 3 {
		t.Fatalf("observed statuses = %v, want at least [queued, processing, completed]", statuses)
	}
	if statuses[0] != string(models.StatusQueued) {
		t.Errorf("first observed status = %q, want queued", statuses[0])
	}
	last := statuses[len(statuses)-1]
	if last != string(models.StatusCompleted) {
		t.Errorf("last observed status = %q, want completed", last)
	}
}

func TestGetUnknownJobIDReturnsNilNoError(t *testing.T) {
	b := newTestBroker(t, &fakeFetcher{outcome: func(int) (*models.Artifact, *models.FetchError) { return nil, nil }}, Config{})
	job, err := b.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job != nil {
		t.Errorf("Get() = %+v, want nil", job)
	}
}

func TestEnginePanicIsClassifiedAsInternalError(t *testing.T) {
	fake := &fakeFetcher{outcome: func(call int) (*models.Artifact, *models.FetchError) {
		panic(errors.New("boom"))
	}}
	b := newTestBroker(t, fake, Config{Concurrency: 1, MaxRetries: 3})
	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	id, err := b.Submit(ctx, "https://example.com/panics", "", "", 0)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	job := waitForTerminal(t, b, id, 2*time.Second)
	if job.Status != models.StatusFailed {
		t.Errorf("Status = %q, want failed", job.Status)
	}
	if job.Error == nil || job.Error.Code != models.CodeInternalError || job.Error.Retryable {
		t.Errorf("Error = %+v, want code=internal_error retryable=false", job.Error)
	}
}

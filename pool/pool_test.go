package pool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/nijaru/yt-transcripts/errors"
	"github.com/nijaru/yt-transcripts/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type extractorFunc func(ctx context.Context, task models.VideoTask) models.ExtractionResult

func (f extractorFunc) Run(ctx context.Context, task models.VideoTask) models.ExtractionResult {
	return f(ctx, task)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func taskN(i int) models.VideoTask {
	return models.VideoTask{ID: fmt.Sprintf("video%06d", i)}
}

// drain polls until the pool reports completion.
func drain(t *testing.T, p *Pool) []models.ExtractionResult {
	t.Helper()
	var results []models.ExtractionResult
	deadline := time.Now().Add(10 * time.Second)
	for !p.IsComplete() || len(results) < p.Progress().Completed {
		require.True(t, time.Now().Before(deadline), "pool did not complete: %+v", p.Progress())
		if res, ok := p.Poll(50 * time.Millisecond); ok {
			results = append(results, res)
		}
	}
	return results
}

func TestCompletionAccounting(t *testing.T) {
	for _, workers := range []int{1, 2, 7, 20} {
		for _, n := range []int{0, 1, 5, 50} {
			t.Run(fmt.Sprintf("W=%d/N=%d", workers, n), func(t *testing.T) {
				var running, peak atomic.Int32
				ex := extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
					cur := running.Add(1)
					for {
						old := peak.Load()
						if cur <= old || peak.CompareAndSwap(old, cur) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					running.Add(-1)
					var id int
					fmt.Sscanf(task.ID, "video%06d", &id)
					return models.ExtractionResult{Success: id%3 != 0}
				})

				p := New(context.Background(), ex, Options{Workers: workers, Log: quietLogger()})
				defer p.Close()
				for i := 0; i < n; i++ {
					require.NoError(t, p.Submit(taskN(i)))
				}

				results := drain(t, p)
				progress := p.Progress()
				assert.Equal(t, n, progress.Total)
				assert.Equal(t, n, progress.Completed)
				assert.Equal(t, n, progress.Succeeded+progress.Failed)
				assert.Equal(t, 0, progress.InFlight)
				assert.Len(t, results, n)
				assert.LessOrEqual(t, int(peak.Load()), workers)

				seen := map[string]bool{}
				for _, r := range results {
					assert.False(t, seen[r.Task.ID], "duplicate result for %s", r.Task.ID)
					seen[r.Task.ID] = true
				}
			})
		}
	}
}

func TestRequestStop(t *testing.T) {
	gate := make(chan struct{})
	ex := extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
		<-gate
		return models.ExtractionResult{Success: true, Method: models.MethodLibrary}
	})

	p := New(context.Background(), ex, Options{Workers: 2, Log: quietLogger()})
	defer p.Close()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(taskN(i)))
	}

	require.Eventually(t, func() bool { return p.Progress().InFlight == 2 }, 5*time.Second, time.Millisecond)
	p.RequestStop()
	assert.True(t, p.StopRequested())

	err := p.Submit(taskN(99))
	require.Error(t, err)
	assert.Equal(t, apperrors.SubmissionRejected, apperrors.Classify(err))
	assert.False(t, p.IsComplete())

	close(gate)
	results := drain(t, p)

	require.Len(t, results, 5)
	var succeeded, rejected int
	for _, r := range results {
		if r.Success {
			succeeded++
			continue
		}
		assert.Equal(t, string(apperrors.SubmissionRejected), r.Kind)
		rejected++
	}
	assert.Equal(t, 2, succeeded)
	assert.Equal(t, 3, rejected)

	progress := p.Progress()
	assert.Equal(t, 5, progress.Total)
	assert.Equal(t, 5, progress.Completed)
	assert.Equal(t, 2, progress.Succeeded)
	assert.Equal(t, 3, progress.Failed)
}

func TestPanicBecomesUnknownFailure(t *testing.T) {
	ex := extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
		if task.ID == taskN(1).ID {
			panic("parser exploded")
		}
		return models.ExtractionResult{Success: true}
	})

	p := New(context.Background(), ex, Options{Workers: 1, Log: quietLogger()})
	defer p.Close()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(taskN(i)))
	}

	results := drain(t, p)
	require.Len(t, results, 3)

	var failed *models.ExtractionResult
	for i := range results {
		if !results[i].Success {
			failed = &results[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, taskN(1), failed.Task)
	assert.Equal(t, string(apperrors.UnknownFailure), failed.Kind)
	assert.Contains(t, failed.Message, "parser exploded")
	assert.NotEmpty(t, failed.Diagnostic)
	assert.Equal(t, 2, p.Progress().Succeeded)
}

func TestPollTimeout(t *testing.T) {
	p := New(context.Background(), extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
		return models.ExtractionResult{Success: true}
	}), Options{Workers: 1, Log: quietLogger()})
	defer p.Close()

	start := time.Now()
	_, ok := p.Poll(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, p.IsComplete())
}

func TestSubmitQueueFull(t *testing.T) {
	gate := make(chan struct{})
	p := New(context.Background(), extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
		<-gate
		return models.ExtractionResult{Success: true}
	}), Options{Workers: 1, QueueSize: 1, Log: quietLogger()})
	defer p.Close()
	defer close(gate)

	require.NoError(t, p.Submit(taskN(0)))
	require.Eventually(t, func() bool { return p.Progress().InFlight == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, p.Submit(taskN(1)))

	err := p.Submit(taskN(2))
	assert.True(t, apperrors.Is(err, apperrors.SubmissionRejected))
	assert.Equal(t, 2, p.Progress().Total)
}

func TestResultsChannel(t *testing.T) {
	p := New(context.Background(), extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
		return models.ExtractionResult{Success: true, Text: task.ID}
	}), Options{Workers: 3, Log: quietLogger()})

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(taskN(i)))
	}

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for res := range p.Results() {
			mu.Lock()
			got = append(got, res.Text)
			mu.Unlock()
		}
	}()

	p.Close()
	wg.Wait()
	assert.Len(t, got, 10)
	assert.Equal(t, 10, p.Progress().Succeeded)
	assert.Error(t, p.Submit(taskN(11)))
}

func TestWorkersClamped(t *testing.T) {
	noop := extractorFunc(func(ctx context.Context, task models.VideoTask) models.ExtractionResult {
		return models.ExtractionResult{}
	})
	p := New(context.Background(), noop, Options{Workers: 500, Log: quietLogger()})
	assert.Equal(t, MaxWorkers, p.Workers())
	p.Close()

	p = New(context.Background(), noop, Options{Log: quietLogger()})
	assert.Equal(t, DefaultWorkers, p.Workers())
	p.Close()
}

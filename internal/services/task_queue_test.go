package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/huangang/codereview-ai/backend/internal/config"
	"github.com/huangang/codereview-ai/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu       sync.Mutex
	attempts []int
	result   func(job *ReviewJob) error
}

func (p *recordingProcessor) process(ctx context.Context, job *ReviewJob) error {
	p.mu.Lock()
	p.attempts = append(p.attempts, job.Attempt)
	p.mu.Unlock()
	return p.result(job)
}

func (p *recordingProcessor) seen() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.attempts...)
}

func TestLocalQueue_RedeliversUntilBudget(t *testing.T) {
	q := NewLocalQueue(2, 0, 3)
	p := &recordingProcessor{result: func(job *ReviewJob) error {
		return &RetryableError{Attempt: job.Attempt, Err: errors.New("boom")}
	}}
	q.SetProcessor(p.process)

	require.NoError(t, q.Enqueue(context.Background(), &ReviewJob{ReviewID: "r1", Attempt: 1}))

	require.Eventually(t, func() bool { return len(p.seen()) == 3 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Close())

	assert.Equal(t, []int{1, 2, 3}, p.seen())
}

func TestLocalQueue_NonRetryableErrorIsNotRedelivered(t *testing.T) {
	q := NewLocalQueue(1, 0, 3)
	p := &recordingProcessor{result: func(job *ReviewJob) error {
		return errors.New("claim failed")
	}}
	q.SetProcessor(p.process)

	require.NoError(t, q.Enqueue(context.Background(), &ReviewJob{ReviewID: "r1", Attempt: 1}))
	require.Eventually(t, func() bool { return len(p.seen()) == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, q.Close())

	assert.Equal(t, []int{1}, p.seen())
}

func TestLocalQueue_CloseWaitsForRunningJobs(t *testing.T) {
	q := NewLocalQueue(1, 0, 3)
	started := make(chan struct{})
	release := make(chan struct{})
	var finished bool
	q.SetProcessor(func(ctx context.Context, job *ReviewJob) error {
		close(started)
		<-release
		finished = true
		return nil
	})

	require.NoError(t, q.Enqueue(context.Background(), &ReviewJob{ReviewID: "r1", Attempt: 1}))
	<-started

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a job was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the job finished")
	}
	assert.True(t, finished)
}

func TestLocalQueue_CloseDropsDelayedRedelivery(t *testing.T) {
	q := NewLocalQueue(1, time.Hour, 3)
	p := &recordingProcessor{result: func(job *ReviewJob) error {
		return &RetryableError{Attempt: job.Attempt, Err: errors.New("boom")}
	}}
	q.SetProcessor(p.process)

	require.NoError(t, q.Enqueue(context.Background(), &ReviewJob{ReviewID: "r1", Attempt: 1}))
	require.Eventually(t, func() bool { return len(p.seen()) == 1 }, time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a delayed redelivery")
	}
	assert.Equal(t, []int{1}, p.seen())
}

func TestLocalQueue_EnqueueAfterClose(t *testing.T) {
	q := NewLocalQueue(1, 0, 3)
	q.SetProcessor(func(ctx context.Context, job *ReviewJob) error { return nil })
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), &ReviewJob{ReviewID: "r1", Attempt: 1})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.False(t, q.IsAsync())
}

func TestLocalQueue_WithExecutorRecoversFromTransientFailures(t *testing.T) {
	f := newExecutorFixture(t,
		transportFailure(502),
		transportFailure(502),
		fakeResponse{text: twoIssueAnalysis},
	)
	review := createTestReview(t, f.reviews, "queue-user")

	q := NewLocalQueue(4, 0, DefaultMaxAttempts)
	q.SetProcessor(f.executor.Execute)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), &ReviewJob{ReviewID: review.ID, Attempt: 1}))

	require.Eventually(t, func() bool {
		got, err := f.reviews.GetByID(context.Background(), review.ID)
		return err == nil && models.IsTerminalStatus(got.Status)
	}, 3*time.Second, 20*time.Millisecond)

	got := f.reload(t, review.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Len(t, got.Issues, 2)
}

func TestNewAnalyzeTask_Payload(t *testing.T) {
	task, err := newAnalyzeTask(&ReviewJob{ReviewID: "abc", Attempt: 0})
	require.NoError(t, err)
	assert.Equal(t, TaskTypeAnalyzeReview, task.Type())

	var job ReviewJob
	require.NoError(t, json.Unmarshal(task.Payload(), &job))
	assert.Equal(t, "abc", job.ReviewID)
	assert.Equal(t, 1, job.Attempt, "attempt is normalised to 1")
}

func TestAsyncQueue_TaskOptions(t *testing.T) {
	q := &AsyncQueue{maxAttempts: 3, taskTimeout: 150 * time.Second}

	tests := []struct {
		attempt  int
		maxRetry int
	}{
		{1, 2},
		{2, 1},
		{3, 0},
		{5, 0},
	}

	for _, tt := range tests {
		var gotRetry = -1
		var gotTimeout time.Duration
		for _, opt := range q.taskOptions(&ReviewJob{ReviewID: "r", Attempt: tt.attempt}) {
			switch opt.Type() {
			case asynq.MaxRetryOpt:
				gotRetry = opt.Value().(int)
			case asynq.TimeoutOpt:
				gotTimeout = opt.Value().(time.Duration)
			}
		}
		if gotRetry != tt.maxRetry {
			t.Errorf("attempt %d: MaxRetry = %d, expected %d", tt.attempt, gotRetry, tt.maxRetry)
		}
		if gotTimeout != 150*time.Second {
			t.Errorf("attempt %d: Timeout = %v, expected 150s", tt.attempt, gotTimeout)
		}
	}
}

func TestAsyncQueue_IsAsync(t *testing.T) {
	if !(&AsyncQueue{}).IsAsync() {
		t.Error("AsyncQueue.IsAsync() should return true")
	}
}

func TestDecodeReviewJob(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		attempt int
		wantErr bool
	}{
		{"explicit attempt", `{"review_id":"r1","attempt":2}`, 2, false},
		{"missing attempt", `{"review_id":"r1"}`, 1, false},
		{"missing review", `{"attempt":1}`, 0, true},
		{"garbage", `not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := decodeReviewJob(context.Background(), []byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Attempt != tt.attempt {
				t.Errorf("Attempt = %d, expected %d", job.Attempt, tt.attempt)
			}
		})
	}
}

func TestWorker_HandleAnalyzeTaskMapsErrors(t *testing.T) {
	tests := []struct {
		name     string
		result   error
		wantErr  bool
		wantSkip bool
	}{
		{"success", nil, false, false},
		{"retryable", &RetryableError{Attempt: 1, Err: errors.New("x")}, true, false},
		{"claim failure", errors.New("db down"), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Worker{}
			w.SetProcessor(func(ctx context.Context, job *ReviewJob) error { return tt.result })

			task, _ := newAnalyzeTask(&ReviewJob{ReviewID: "r1", Attempt: 1})
			err := w.handleAnalyzeTask(context.Background(), task)

			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := errors.Is(err, asynq.SkipRetry); got != tt.wantSkip {
				t.Errorf("SkipRetry = %v, expected %v", got, tt.wantSkip)
			}
		})
	}
}

func TestLinearRetryDelay(t *testing.T) {
	fn := linearRetryDelay(5 * time.Second)
	if d := fn(1, nil, nil); d != 5*time.Second {
		t.Errorf("first retry delay = %v, expected 5s", d)
	}
	if d := fn(2, nil, nil); d != 10*time.Second {
		t.Errorf("second retry delay = %v, expected 10s", d)
	}
}

func TestNewWorker_DisabledRedis(t *testing.T) {
	if w := NewWorker(&config.RedisConfig{Enabled: false}, &config.QueueConfig{}); w != nil {
		t.Error("NewWorker should return nil when redis is disabled")
	}
}

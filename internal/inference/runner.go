// Package inference runs chat completion jobs against an [llm.Provider].
//
// Each job streams one model reply in its own goroutine and reports progress
// through a [Callback]. Jobs are identified by small integers handed out in
// increasing order, which the chat store uses to associate a running job with
// the chat it writes into. A job can be stopped at any time; it then reports
// one final finished callback with the text produced so far.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/toolchat/internal/observe"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
)

var (
	// ErrUnknownJob is returned for a job id the runner never issued or has
	// already forgotten.
	ErrUnknownJob = errors.New("inference: unknown job")

	// ErrClosed is returned by [Runner.StartChatCompletionJob] after
	// [Runner.Close].
	ErrClosed = errors.New("inference: runner closed")

	// ErrStopped is the Result error of a job ended by [Runner.Stop].
	ErrStopped = errors.New("inference: job stopped")

	// ErrNoProvider is returned by [Runner.StartChatCompletionJob] when no
	// model is configured.
	ErrNoProvider = errors.New("inference: no LLM provider configured")
)

// Params describes one completion.
type Params struct {
	Messages     []llm.Message
	SystemPrompt string
	Temperature  float64

	// MaxTokens is clamped to the model's output limit. Zero selects the
	// limit itself.
	MaxTokens int
}

// Callback receives the reply text accumulated so far, the generation speed
// in chunks per second, the job id and whether the job has ended. It is
// called from the job goroutine, never concurrently for the same job, and
// exactly once with finished set.
type Callback func(partial string, tokensPerSecond float64, jobID int, finished bool)

// Result is the outcome of a finished job.
type Result struct {
	Text            string
	TokensPerSecond float64
	FinishReason    string

	// Err is nil for a normally finished stream, [ErrStopped] for a stopped
	// job and the provider error otherwise.
	Err error
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
	result Result
}

// Option configures a [Runner].
type Option func(*Runner)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRetention sets how many finished jobs are remembered for [Runner.Wait].
func WithRetention(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.retain = n
		}
	}
}

// Runner starts and tracks completion jobs. All methods are safe for
// concurrent use.
type Runner struct {
	logger  *slog.Logger
	metrics *observe.Metrics
	retain  int
	wg      sync.WaitGroup

	mu       sync.Mutex
	provider llm.Provider
	nextID   int
	jobs     map[int]*job
	finished []int
	closed   bool
}

// New returns a runner that sends every job to p.
func New(p llm.Provider, opts ...Option) *Runner {
	r := &Runner{
		logger:   slog.Default(),
		metrics:  observe.DefaultMetrics(),
		retain:   64,
		provider: p,
		jobs:     make(map[int]*job),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetProvider switches the provider used by jobs started afterwards.
func (r *Runner) SetProvider(p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider = p
}

// StartChatCompletionJob starts streaming a reply and returns the job id.
// The job runs until the stream ends, [Runner.Stop] is called or ctx is
// done. An error is returned only when the stream could not be started; cb
// is not called in that case.
func (r *Runner) StartChatCompletionJob(ctx context.Context, params Params, cb Callback) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	p := r.provider
	r.mu.Unlock()
	if p == nil {
		return 0, ErrNoProvider
	}

	caps := p.Capabilities()
	if caps.MaxOutputTokens > 0 && (params.MaxTokens <= 0 || params.MaxTokens > caps.MaxOutputTokens) {
		params.MaxTokens = caps.MaxOutputTokens
	}

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	spanCtx, span := observe.StartSpan(jobCtx, "inference.job")
	span.SetAttributes(attribute.String("provider", p.Name()))
	start := time.Now()
	chunks, err := p.StreamCompletion(spanCtx, llm.CompletionRequest{
		Messages:     params.Messages,
		SystemPrompt: params.SystemPrompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
	})
	if err != nil {
		stop()
		cancel()
		observe.Fail(span, err)
		span.End()
		r.metrics.RecordProviderRequest(ctx, p.Name(), time.Since(start), err)
		return 0, fmt.Errorf("inference: start job: %w", err)
	}

	j := &job{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.jobs[id] = j
	r.mu.Unlock()

	span.SetAttributes(attribute.Int("job_id", id))
	r.metrics.ActiveJobs.Add(ctx, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer span.End()
		defer stop()
		defer cancel()

		res := r.consume(jobCtx, id, chunks, cb)
		if res.Err != nil && !errors.Is(res.Err, ErrStopped) {
			observe.Fail(span, res.Err)
		}
		r.metrics.ActiveJobs.Add(context.Background(), -1)
		r.metrics.RecordProviderRequest(context.Background(), p.Name(), time.Since(start), res.Err)
		r.finish(id, j, res)
	}()
	return id, nil
}

// consume drains the stream, reporting progress to cb.
func (r *Runner) consume(ctx context.Context, id int, chunks <-chan llm.Chunk, cb Callback) Result {
	var (
		text  strings.Builder
		res   Result
		n     int
		first time.Time
	)
	rate := func() float64 {
		if n < 2 {
			return 0
		}
		el := time.Since(first).Seconds()
		if el <= 0 {
			return 0
		}
		return float64(n-1) / el
	}

loop:
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				// A provider may close its channel in response to cancellation.
				if ctx.Err() != nil {
					res.Err = ErrStopped
				}
				break loop
			}
			if c.FinishReason == llm.FinishError {
				res.Err = fmt.Errorf("inference: job %d: %s", id, c.Text)
				res.FinishReason = llm.FinishError
				break loop
			}
			if c.FinishReason != "" {
				res.FinishReason = c.FinishReason
			}
			if c.Text == "" {
				continue
			}
			if n == 0 {
				first = time.Now()
			}
			n++
			text.WriteString(c.Text)
			if cb != nil {
				cb(text.String(), rate(), id, false)
			}
		case <-ctx.Done():
			res.Err = ErrStopped
			break loop
		}
	}
	// Unblock a provider goroutine still trying to send.
	go func() {
		for range chunks {
		}
	}()

	res.Text = text.String()
	res.TokensPerSecond = rate()
	if res.Err != nil {
		r.logger.Warn("inference job ended early", "job_id", id, "err", res.Err)
	}
	if cb != nil {
		cb(res.Text, res.TokensPerSecond, id, true)
	}
	return res
}

// finish stores the result and forgets the oldest finished jobs beyond the
// retention limit.
func (r *Runner) finish(id int, j *job, res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.result = res
	close(j.done)
	r.finished = append(r.finished, id)
	for len(r.finished) > r.retain {
		delete(r.jobs, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Stop cancels a running job and reports whether it was still running.
func (r *Runner) Stop(jobID int) bool {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
	}
	j.cancel()
	return true
}

// Wait blocks until the job has finished and returns its result.
func (r *Runner) Wait(ctx context.Context, jobID int) (Result, error) {
	r.mu.Lock()
	j, ok := r.jobs[jobID]
	r.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownJob, jobID)
	}
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Active returns the ids of all running jobs.
func (r *Runner) Active() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []int
	for id, j := range r.jobs {
		select {
		case <-j.done:
		default:
			ids = append(ids, id)
		}
	}
	return ids
}

// Close stops every running job and waits for them to finish. Further jobs
// are refused.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	for _, j := range r.jobs {
		j.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

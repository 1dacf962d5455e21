package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/harun/alzassist/internal/observability"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close
	ErrQueueClosed = errors.New("command queue closed")
	// ErrEmptyLane is returned for an empty lane name
	ErrEmptyLane = errors.New("lane name is required")
	// ErrNilTask is returned when Enqueue is given no task
	ErrNilTask = errors.New("task is required")
)

// Task is one unit of work. ctx ends when the caller's context ends or the
// queue is closed.
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions tunes a single Enqueue call
type TaskOptions struct {
	// WarnAfter fires OnWait if the task is still queued after this long.
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
	// RequestID makes the call idempotent within its lane: a repeated ID
	// returns the cached outcome instead of running again.
	RequestID string
}

// Options configures a CommandQueue
type Options struct {
	// DedupTTL is how long RequestID outcomes are remembered. Default 5m.
	DedupTTL time.Duration
	Logger   *zerolog.Logger
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	queue   []*taskRecord
	running bool
}

// LaneStats is a point-in-time view of one lane
type LaneStats struct {
	Queued  int  `json:"queued"`
	Running bool `json:"running"`
}

// CommandQueue serializes tasks per lane
type CommandQueue struct {
	mu        sync.Mutex
	lanes     map[string]*laneState
	taskIDSeq int
	closed    bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	dedup  *dedupCache
	logger zerolog.Logger
}

// New creates an empty queue
func New(opts Options) *CommandQueue {
	observability.EnsureRegistered()

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(ctx, opts.DedupTTL),
		logger: logger.With().Str("module", "commandqueue").Logger(),
	}
}

// LaneKind returns the part of lane before the first colon. It labels
// metrics so their cardinality does not grow with the number of lanes.
func LaneKind(lane string) string {
	if i := strings.IndexByte(lane, ':'); i >= 0 {
		return lane[:i]
	}
	return lane
}

// Enqueue appends task to lane and blocks until it finished, or until ctx
// ends while the task is still waiting.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if lane == "" {
		return nil, ErrEmptyLane
	}
	if task == nil {
		return nil, ErrNilTask
	}

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}
	dedupKey := ""
	if opts.RequestID != "" {
		dedupKey = lane + "\x00" + opts.RequestID
		if cached, ok := cq.dedup.Get(dedupKey); ok {
			cq.logger.Debug().Str("lane", lane).Str("request_id", opts.RequestID).Msg("Returning cached task result")
			return cached.value, cached.err
		}
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"alzassist.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, cq.logger)

	record, queueSize, err := cq.push(ctx, lane, task, opts)
	if err != nil {
		return nil, err
	}
	kind := LaneKind(lane)

	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queue_size", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(kind, queueSize)

	if opts.WarnAfter > 0 && opts.OnWait != nil {
		timer := time.AfterFunc(opts.WarnAfter, func() { cq.warnWaiting(lane, record) })
		defer timer.Stop()
	}

	cq.schedule(lane)

	var res taskResult
	select {
	case res = <-record.result:
	case <-ctx.Done():
		if cq.remove(lane, record) {
			logger.Debug().Str("lane", lane).Str("task_id", record.id).Msg("Task abandoned while queued")
			observability.RecordQueueCompletion(kind, 0, false, cq.QueueSize(lane))
			res = taskResult{err: ctx.Err()}
		} else {
			// already running; the task observes ctx itself
			res = <-record.result
		}
	}

	if dedupKey != "" && ctx.Err() == nil {
		cq.dedup.Set(dedupKey, res)
	}
	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res.value, res.err
}

func (cq *CommandQueue) push(ctx context.Context, lane string, task Task, opts TaskOptions) (*taskRecord, int, error) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.closed {
		return nil, 0, ErrQueueClosed
	}

	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}

	cq.taskIDSeq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	return record, len(ls.queue), nil
}

// remove drops record from lane if it has not started yet
func (cq *CommandQueue) remove(lane string, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			cq.dropIfIdleLocked(lane, ls)
			return true
		}
	}
	return false
}

// schedule starts the head of lane if nothing is running there
func (cq *CommandQueue) schedule(lane string) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok || ls.running || len(ls.queue) == 0 {
		return
	}

	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true

	cq.wg.Add(1)
	go cq.execute(lane, record)
}

func (cq *CommandQueue) execute(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"alzassist.commandqueue",
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(taskCtx, cq.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("waited", time.Since(record.enqueuedAt)).
		Msg("Task started")

	start := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(start)

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().Str("lane", lane).Str("task_id", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("lane", lane).Str("task_id", record.id).Dur("duration", duration).Msg("Task completed")
	}

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running = false
	queueSize := len(ls.queue)
	cq.dropIfIdleLocked(lane, ls)
	cq.mu.Unlock()

	observability.RecordQueueCompletion(LaneKind(lane), duration, err == nil, queueSize)

	cq.schedule(lane)
}

// run converts a panicking task into an error so its lane keeps moving
func (cq *CommandQueue) run(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (cq *CommandQueue) dropIfIdleLocked(lane string, ls *laneState) {
	if !ls.running && len(ls.queue) == 0 {
		delete(cq.lanes, lane)
	}
}

func (cq *CommandQueue) warnWaiting(lane string, record *taskRecord) {
	cq.mu.Lock()
	queuePos := -1
	if ls, ok := cq.lanes[lane]; ok {
		for i, r := range ls.queue {
			if r == record {
				queuePos = i
				break
			}
		}
	}
	cq.mu.Unlock()

	if queuePos < 0 {
		return
	}
	wait := time.Since(record.enqueuedAt)
	cq.logger.Warn().
		Str("lane", lane).
		Str("task_id", record.id).
		Dur("wait", wait).
		Int("queue_pos", queuePos).
		Msg("Task waiting longer than expected")
	record.options.OnWait(wait, queuePos)
}

// QueueSize returns the number of waiting tasks in lane
func (cq *CommandQueue) QueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// Stats returns a snapshot of every live lane
func (cq *CommandQueue) Stats() map[string]LaneStats {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for lane, ls := range cq.lanes {
		stats[lane] = LaneStats{Queued: len(ls.queue), Running: ls.running}
	}
	return stats
}

// Active returns the number of lanes that are running a task
func (cq *CommandQueue) Active() int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	n := 0
	for _, ls := range cq.lanes {
		if ls.running {
			n++
		}
	}
	return n
}

// WaitForActive waits until no lane has work, or ctx ends. It reports
// whether the queue drained.
func (cq *CommandQueue) WaitForActive(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		cq.mu.Lock()
		idle := len(cq.lanes) == 0
		cq.mu.Unlock()
		if idle {
			return true
		}

		select {
		case <-ctx.Done():
			cq.logger.Warn().Int("active", cq.Active()).Msg("Timeout waiting for active tasks")
			return false
		case <-ticker.C:
		}
	}
}

// Close rejects new tasks, cancels running ones and waits for them to return.
// Tasks still queued fail with ErrQueueClosed.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	for lane, ls := range cq.lanes {
		for _, record := range ls.queue {
			record.result <- taskResult{err: ErrQueueClosed}
		}
		ls.queue = nil
		cq.dropIfIdleLocked(lane, ls)
	}
	cq.mu.Unlock()

	cq.cancel()
	cq.wg.Wait()
	cq.dedup.Stop()
	return nil
}

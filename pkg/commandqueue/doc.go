// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Invariants:
// - Tasks in the same lane execute one at a time in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - Lanes are created on first use and dropped once idle.
// - A caller whose context ends while its task is still queued gets the
//   context error and the task never runs.
// - A call repeating the RequestID of a finished call within the dedup TTL
//   returns the earlier outcome without running its task.
//
// Usage:
//
//	queue := commandqueue.New(commandqueue.Options{})
//	defer queue.Close()
//	result, err := queue.Enqueue(ctx, "session:abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue

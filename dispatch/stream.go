package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tools-aigc/toolflow/format"
	"github.com/tools-aigc/toolflow/session"
)

// streamState tracks the stream lifecycle.
type streamState int32

const (
	stateStarted streamState = iota
	stateDispatching
	stateCompleted
	stateAborted
)

func (s streamState) String() string {
	switch s {
	case stateStarted:
		return "started"
	case stateDispatching:
		return "dispatching"
	case stateCompleted:
		return "completed"
	case stateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Stream runs a batch and emits its event envelope on the returned channel.
// Batch-level validation failures are returned before any event is emitted.
//
// Cancelling ctx aborts the stream: no further events are emitted and the
// channel closes, but calls already executing run to completion so the
// cache and session history stay consistent. Calls that never started are
// absent from history.
func (d *Dispatcher) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	output, err := d.validate(&req)
	if err != nil {
		return nil, err
	}

	sess, _ := d.sessions.GetOrCreate(req.SessionID)
	ch := make(chan Event, d.config.EventBuffer)
	go d.runStream(ctx, sess, req, output, ch)
	return ch, nil
}

func (d *Dispatcher) runStream(ctx context.Context, sess *session.Session, req Request,
	output format.OutputFormat, ch chan<- Event) {
	defer close(ch)

	start := time.Now()
	state := stateStarted

	send := func(ev Event) bool {
		ev.SessionID = sess.ID()
		ev.Timestamp = time.Now()
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Type: EventCallStarted}) {
		return
	}

	if len(req.Calls) == 0 {
		send(Event{Type: EventCompleted, Summary: &Summary{Elapsed: time.Since(start)}})
		return
	}

	state = stateDispatching
	results := make([]CallResult, len(req.Calls))
	startedFlags := make([]atomic.Bool, len(req.Calls))
	var abort atomic.Bool
	done := make(chan int, len(req.Calls))

	// Execution is detached from the consumer context so an abort never
	// leaves a half-finished call behind.
	execCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(d.config.MaxConcurrency)
	for i, call := range req.Calls {
		g.Go(func() error {
			if abort.Load() {
				return nil
			}
			startedFlags[i].Store(true)
			results[i] = d.runCall(execCtx, sess, call, output)
			results[i].Index = i
			done <- i
			return nil
		})
	}
	drained := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
		close(drained)
	}()

	finish := func(aborted bool) {
		elapsed := time.Since(start)
		skipped := make(map[int]bool)
		for i := range req.Calls {
			if !startedFlags[i].Load() {
				skipped[i] = true
			}
		}
		d.appendHistory(sess, req.Calls, results, skipped)

		status := "ok"
		if aborted {
			status = "aborted"
		}
		d.recordBatch(string(req.Mode), status, len(req.Calls), elapsed)
		d.logger.Debug("stream finished",
			zap.String("session_id", sess.ID()),
			zap.String("state", state.String()),
			zap.Duration("elapsed", elapsed))
	}

	emitted := make([]bool, len(req.Calls))
	finished := make([]bool, len(req.Calls))
	next := 0

	emitOne := func(r CallResult) bool {
		if r.Failed() {
			return send(Event{
				Type:     EventError,
				CallID:   r.CallID,
				ToolName: r.ToolName,
				Code:     r.Code,
				Message:  r.Error,
			})
		}
		return send(Event{
			Type:     EventResult,
			CallID:   r.CallID,
			ToolName: r.ToolName,
			Result:   &r,
		})
	}

	for {
		select {
		case <-ctx.Done():
			state = stateAborted
			abort.Store(true)
			<-drained
			finish(true)
			return

		case i, ok := <-done:
			if !ok {
				if req.Mode == ModeAutomatic {
					if !send(Event{Type: EventAggregatedResult, Results: results}) {
						state = stateAborted
						finish(true)
						return
					}
				}
				state = stateCompleted
				summary := summarize(results, time.Since(start))
				send(Event{Type: EventCompleted, Summary: &summary})
				finish(false)
				return
			}

			if req.Mode != ModeStandard {
				continue
			}
			if req.OrderedEvents {
				finished[i] = true
				for next < len(results) && finished[next] {
					if !emitted[next] {
						if !emitOne(results[next]) {
							state = stateAborted
							abort.Store(true)
							<-drained
							finish(true)
							return
						}
						emitted[next] = true
					}
					next++
				}
			} else {
				if !emitOne(results[i]) {
					state = stateAborted
					abort.Store(true)
					<-drained
					finish(true)
					return
				}
				emitted[i] = true
			}
		}
	}
}

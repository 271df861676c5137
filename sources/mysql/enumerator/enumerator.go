package enumerator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

// solicitInterval is how often the planner asks workers to re-send finish
// reports that may have been lost across restarts.
const solicitInterval = 30 * time.Second

// WorkerGateway is how the planner reaches its workers. The host runtime
// provides it; the in-process runtime backs it with channels.
type WorkerGateway interface {
	// RegisteredWorkers returns the ids of currently-live workers.
	RegisteredWorkers() []int
	// Assign delivers a split to a worker.
	Assign(worker int, split splits.Split) error
	// Send delivers a planner event (ack, solicit) to a worker.
	Send(worker int, event PlannerEvent) error
}

// Enumerator is the planner-side event loop. All assigner mutation happens on
// the single loop goroutine; public methods enqueue work onto it.
type Enumerator struct {
	gateway  WorkerGateway
	assigner *splits.SplitAssigner
	clock    clock.Clock

	inbox chan func()
	done  chan struct{}

	// awaiting holds workers with an outstanding split request, drained in
	// ascending worker order so ties break deterministically and the binlog
	// split lands on the lowest-numbered reader.
	awaiting []int
}

func New(gateway WorkerGateway, assigner *splits.SplitAssigner, clk clock.Clock) *Enumerator {
	if clk == nil {
		clk = clock.New()
	}
	return &Enumerator{
		gateway:  gateway,
		assigner: assigner,
		clock:    clk,
		inbox:    make(chan func(), 64),
		done:     make(chan struct{}),
	}
}

// Start opens the assigner and launches the event loop. It returns once the
// assigner is ready; the loop runs until ctx is cancelled or Close is called.
func (e *Enumerator) Start(ctx context.Context) error {
	if err := e.assigner.Open(ctx); err != nil {
		return fmt.Errorf("failed to open split assigner: %w", err)
	}

	go e.run(ctx)
	return nil
}

func (e *Enumerator) run(ctx context.Context) {
	ticker := e.clock.Ticker(solicitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case fn := <-e.inbox:
			fn()
		case <-ticker.C:
			e.solicitFinishReports()
		}
	}
}

// Close stops the event loop.
func (e *Enumerator) Close() {
	close(e.done)
}

// enqueue runs fn on the loop goroutine.
func (e *Enumerator) enqueue(fn func()) {
	select {
	case e.inbox <- fn:
	case <-e.done:
	}
}

// call runs fn on the loop goroutine and waits for it to finish.
func (e *Enumerator) call(fn func()) {
	doneCh := make(chan struct{})
	e.enqueue(func() {
		defer close(doneCh)
		fn()
	})
	select {
	case <-doneCh:
	case <-e.done:
	}
}

// HandleSplitRequest records the worker as awaiting and tries to assign.
func (e *Enumerator) HandleSplitRequest(worker int) {
	e.enqueue(func() {
		e.addAwaiting(worker)
		e.assignSplits()
	})
}

// HandleFinishReport forwards reported watermarks to the assigner and acks the
// same split ids back to the worker.
func (e *Enumerator) HandleFinishReport(worker int, offsets map[string]mysql.BinlogOffset) {
	e.enqueue(func() {
		slog.Info("Received finished split offsets",
			slog.Int("worker", worker),
			slog.Int("splits", len(offsets)),
		)
		acked := e.assigner.OnFinishedSplits(offsets)
		if len(acked) > 0 {
			if err := e.gateway.Send(worker, FinishAck{SplitIDs: acked}); err != nil {
				slog.Warn("Failed to send finish ack", slog.Int("worker", worker), slog.Any("err", err))
			}
		}
	})
}

// AddSplitsBack returns a lost worker's splits to the pool.
func (e *Enumerator) AddSplitsBack(worker int, returned []splits.SnapshotSplit) {
	e.enqueue(func() {
		slog.Info("Adding splits back", slog.Int("worker", worker), slog.Int("splits", len(returned)))
		e.assigner.AddSplits(returned)
		e.assignSplits()
	})
}

// AddReader is called when a worker (re)registers. Nothing to do: the worker
// will request a split itself.
func (e *Enumerator) AddReader(worker int) {}

// SnapshotState captures the assigner state for a checkpoint. Runs
// synchronously on the loop goroutine so it never races an assignment.
func (e *Enumerator) SnapshotState(checkpointID int64) splits.AssignerState {
	var state splits.AssignerState
	e.call(func() {
		state = e.assigner.SnapshotState(checkpointID)
	})
	return state
}

// NotifyCheckpointComplete marks finished chunks durable. The binlog split may
// become assignable right after, so drain the awaiting set.
func (e *Enumerator) NotifyCheckpointComplete(checkpointID int64) {
	e.enqueue(func() {
		e.assigner.NotifyCheckpointComplete(checkpointID)
		e.assignSplits()
	})
}

func (e *Enumerator) addAwaiting(worker int) {
	for _, awaiting := range e.awaiting {
		if awaiting == worker {
			return
		}
	}
	e.awaiting = append(e.awaiting, worker)
	sort.Ints(e.awaiting)
}

func (e *Enumerator) assignSplits() {
	registered := make(map[int]struct{})
	for _, worker := range e.gateway.RegisteredWorkers() {
		registered[worker] = struct{}{}
	}

	remaining := e.awaiting[:0]
	for i, worker := range e.awaiting {
		// The worker may have failed between sending the request and now.
		if _, isOk := registered[worker]; !isOk {
			continue
		}

		split, isOk := e.assigner.Next()
		if !isOk {
			// No split available right now; keep the rest of the queue.
			remaining = append(remaining, e.awaiting[i:]...)
			break
		}

		if err := e.gateway.Assign(worker, split); err != nil {
			slog.Warn("Failed to assign split, returning it",
				slog.Int("worker", worker),
				slog.String("splitID", split.SplitID()),
				slog.Any("err", err),
			)
			if snapshotSplit, isSnapshot := split.(splits.SnapshotSplit); isSnapshot {
				e.assigner.AddSplits([]splits.SnapshotSplit{snapshotSplit})
			}
			continue
		}

		slog.Info("Assigned split", slog.String("splitID", split.SplitID()), slog.Int("worker", worker))
	}
	e.awaiting = remaining
}

func (e *Enumerator) solicitFinishReports() {
	// A restart may have dropped finish reports or acks; ask every worker to
	// re-send what is still unacked.
	if !e.assigner.WaitingForFinishedSplits() {
		return
	}

	for _, worker := range e.gateway.RegisteredWorkers() {
		if err := e.gateway.Send(worker, FinishSolicit{}); err != nil {
			slog.Warn("Failed to solicit finish reports", slog.Int("worker", worker), slog.Any("err", err))
		}
	}
}

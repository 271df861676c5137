package reader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"

	"github.com/terrastream/mysql-cdc/lib/mysql"
)

// splitState tracks a chunk read through its phases. Failures in any state are
// fatal to the chunk; the runtime returns the split to the assigner.
type splitState int

const (
	stateCreated splitState = iota
	stateSnapshotting
	stateWaitingForHighWatermark
	stateNormalizing
	stateFinished
)

func (s splitState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateSnapshotting:
		return "snapshotting"
	case stateWaitingForHighWatermark:
		return "waiting-for-high-watermark"
	case stateNormalizing:
		return "normalizing"
	case stateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// defaultQueueSize bounds the log-ingest buffer; a full buffer blocks the
// tailing goroutine rather than growing without bound.
const defaultQueueSize = 1024

// SnapshotResult is a chunk's normalized output and the watermark to report to
// the planner.
type SnapshotResult struct {
	Events        []records.Event
	HighWatermark mysql.BinlogOffset
}

// SnapshotReader executes the per-chunk consistency algorithm: capture the low
// watermark, select the chunk's rows while a bounded queue ingests the
// concurrent log slice, capture the high watermark, drain the queue past it,
// and normalize the buffer.
type SnapshotReader struct {
	querier   ChunkQuerier
	tailer    LogTailer
	queueSize int
}

func NewSnapshotReader(querier ChunkQuerier, tailer LogTailer) *SnapshotReader {
	return &SnapshotReader{
		querier:   querier,
		tailer:    tailer,
		queueSize: defaultQueueSize,
	}
}

type queueItem struct {
	events []records.Event
	pos    mysql.BinlogOffset
	err    error
}

// ReadSplit runs one chunk to completion and returns its normalized events.
func (r *SnapshotReader) ReadSplit(ctx context.Context, split splits.SnapshotSplit) (*SnapshotResult, error) {
	state := stateCreated
	start := time.Now()
	fail := func(err error) (*SnapshotResult, error) {
		return nil, fmt.Errorf("chunk %s failed while %s: %w", split.ID, state, err)
	}

	low, err := r.querier.CurrentOffset(ctx)
	if err != nil {
		return fail(err)
	}

	// Start ingesting the log at the low watermark before the select begins,
	// so every concurrent modification lands in the queue.
	tailCtx, cancelTail := context.WithCancel(ctx)
	defer cancelTail()

	stream, err := r.tailer.Tail(tailCtx, low)
	if err != nil {
		return fail(err)
	}
	defer stream.Close()

	queue := make(chan queueItem, r.queueSize)
	go func() {
		defer close(queue)
		for {
			events, pos, err := stream.Next(tailCtx)
			item := queueItem{events: events, pos: pos, err: err}
			select {
			case queue <- item:
			case <-tailCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	state = stateSnapshotting
	buffer := []records.Event{records.Watermark{Kind: records.WatermarkLow, SplitID: split.ID, Offset: low}}
	err = r.querier.ReadChunk(ctx, split, func(row map[string]any) error {
		buffer = append(buffer, records.Record{
			Op:    records.OpRead,
			Table: split.Table,
			After: row,
		})
		return nil
	})
	if err != nil {
		return fail(err)
	}

	high, err := r.querier.CurrentOffset(ctx)
	if err != nil {
		return fail(err)
	}
	buffer = append(buffer, records.Watermark{Kind: records.WatermarkHigh, SplitID: split.ID, Offset: high})

	// Drain the concurrent log slice. When nothing was committed during the
	// select the watermarks coincide and there is nothing to wait for.
	state = stateWaitingForHighWatermark
	if low.Before(high) {
		if err = drainUntil(ctx, queue, high, &buffer); err != nil {
			return fail(err)
		}
	}
	cancelTail()
	buffer = append(buffer, records.Watermark{Kind: records.WatermarkEnd, SplitID: split.ID, Offset: high})

	state = stateNormalizing
	normalized, err := Normalize(split, buffer)
	if err != nil {
		return fail(err)
	}

	state = stateFinished
	slog.Info("Finished reading chunk",
		slog.String("splitID", split.ID),
		slog.String("lowWatermark", low.String()),
		slog.String("highWatermark", high.String()),
		slog.Int("events", len(normalized)),
		slog.Duration("duration", time.Since(start)),
	)

	return &SnapshotResult{Events: normalized, HighWatermark: high}, nil
}

// drainUntil appends queued log events to the buffer until the stream position
// reaches the high watermark. Every log event the queue can still deliver at
// or before the high watermark must arrive before the buffer is closed.
func drainUntil(ctx context.Context, queue <-chan queueItem, high mysql.BinlogOffset, buffer *[]records.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, isOpen := <-queue:
			if !isOpen {
				return fmt.Errorf("log stream ended before reaching the high watermark %s", high)
			}
			if item.err != nil {
				return fmt.Errorf("log stream failed: %w", item.err)
			}

			if item.pos.AtOrBefore(high) {
				*buffer = append(*buffer, item.events...)
			}
			if item.pos.AtOrAfter(high) {
				return nil
			}
		}
	}
}

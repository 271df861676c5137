package mysql

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/terrastream/mysql-cdc/config"
	"github.com/terrastream/mysql-cdc/lib/iterator"
	libmysql "github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/lib/mtr"
	"github.com/terrastream/mysql-cdc/sources/mysql/enumerator"
	"github.com/terrastream/mysql-cdc/sources/mysql/reader"
	"github.com/terrastream/mysql-cdc/sources/mysql/records"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
	"github.com/terrastream/mysql-cdc/sources/mysql/streaming"
	"github.com/terrastream/mysql-cdc/writers"
)

const (
	binlogFlushSize     = 256
	binlogFlushInterval = time.Second
)

// worker owns one database connection and one replication identity. It asks
// the planner for splits, reads them, publishes the results, and reports
// finished chunks until they are acknowledged.
type worker struct {
	id       int
	serverID uint32
	cfg      config.MySQL

	enum    *enumerator.Enumerator
	events  <-chan enumerator.PlannerEvent
	writer  *writers.Writer
	adapter *messageAdapter
	schemas map[string]libmysql.Table

	checkpoints   *checkpointStore
	schemaHistory *streaming.SchemaHistoryStore
	statsD        mtr.Client
}

func (w *worker) run(ctx context.Context) error {
	db, err := libmysql.Connect(ctx, w.cfg.ToDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	querier := reader.NewSQLChunkQuerier(db, w.cfg.Snapshot.GetFetchSize())
	tailer := streaming.NewTailer(w.cfg, w.serverID, w.schemas)
	snapshotReader := reader.NewSnapshotReader(querier, tailer)

	// Finished chunks stay here until the planner acks them; re-reported on
	// every solicit so a dropped report heals within one timer period.
	unacked := make(map[string]libmysql.BinlogOffset)

	w.enum.AddReader(w.id)
	w.enum.HandleSplitRequest(w.id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.events:
			switch e := event.(type) {
			case enumerator.SplitAssignment:
				switch split := e.Split.(type) {
				case splits.SnapshotSplit:
					if err := w.readChunk(ctx, snapshotReader, split, unacked); err != nil {
						if ctx.Err() != nil {
							return ctx.Err()
						}

						// The chunk failed; hand it back and keep serving.
						slog.Error("Chunk read failed, returning split",
							slog.String("splitID", split.ID),
							slog.Int("worker", w.id),
							slog.Any("err", err),
						)
						w.enum.AddSplitsBack(w.id, []splits.SnapshotSplit{split})
					}
					w.enum.HandleSplitRequest(w.id)
				case splits.BinlogSplit:
					// Terminal phase for this worker: tail until cancelled or
					// the stop offset is reached.
					return w.tailBinlog(ctx, split, tailer)
				}
			case enumerator.FinishAck:
				for _, splitID := range e.SplitIDs {
					delete(unacked, splitID)
				}
			case enumerator.FinishSolicit:
				if len(unacked) > 0 {
					w.enum.HandleFinishReport(w.id, cloneOffsets(unacked))
				}
			case enumerator.SplitAddback:
				// Planner-bound; nothing for a worker to do.
			}
		}
	}
}

func (w *worker) readChunk(ctx context.Context, snapshotReader *reader.SnapshotReader, split splits.SnapshotSplit, unacked map[string]libmysql.BinlogOffset) error {
	start := time.Now()
	result, err := snapshotReader.ReadSplit(ctx, split)
	if err != nil {
		return err
	}

	msgs, err := w.adapter.BuildMessages(result.Events)
	if err != nil {
		return err
	}

	if _, err = w.writer.Write(ctx, iterator.Once(msgs)); err != nil {
		return err
	}

	if w.statsD != nil {
		tags := map[string]string{"table": split.Table.String()}
		w.statsD.Timing("chunk.read", time.Since(start), tags)
		w.statsD.Count("chunk.records", int64(len(msgs)), tags)
	}

	unacked[split.ID] = result.HighWatermark
	w.enum.HandleFinishReport(w.id, map[string]libmysql.BinlogOffset{split.ID: result.HighWatermark})
	return nil
}

func (w *worker) tailBinlog(ctx context.Context, split splits.BinlogSplit, tailer reader.LogTailer) error {
	// Resume from the committed offset when it is ahead of the split's start;
	// per-chunk suppression stays correct at any offset at or past the start.
	if saved, err := w.checkpoints.LoadBinlogOffset(); err != nil {
		return err
	} else if saved != nil && split.StartOffset.Before(*saved) {
		slog.Info("Resuming binlog tail from committed offset", slog.String("offset", saved.String()))
		split.StartOffset = *saved
	}

	binlogReader, err := reader.NewBinlogReader(split, tailer)
	if err != nil {
		return err
	}

	flusher := &batchFlusher{
		writer:      w.writer,
		adapter:     w.adapter,
		checkpoints: w.checkpoints,
		statsD:      w.statsD,
	}

	flushCtx, cancelFlush := context.WithCancel(ctx)
	defer cancelFlush()
	go flusher.flushPeriodically(flushCtx)

	err = binlogReader.Run(ctx, func(event records.Event) error {
		if change, isOk := event.(records.SchemaChange); isOk {
			if histErr := w.schemaHistory.Append(change); histErr != nil {
				slog.Warn("Failed to persist schema history", slog.Any("err", histErr))
			}
		}
		return flusher.add(ctx, event)
	})
	if err != nil {
		return err
	}

	return flusher.flush(ctx)
}

func cloneOffsets(offsets map[string]libmysql.BinlogOffset) map[string]libmysql.BinlogOffset {
	cloned := make(map[string]libmysql.BinlogOffset, len(offsets))
	for splitID, offset := range offsets {
		cloned[splitID] = offset
	}
	return cloned
}

// batchFlusher batches tail events toward the destination and commits the
// binlog offset after every successful publish.
type batchFlusher struct {
	writer      *writers.Writer
	adapter     *messageAdapter
	checkpoints *checkpointStore
	statsD      mtr.Client

	mu      sync.Mutex
	pending []records.Event
	lastPos libmysql.BinlogOffset
}

func (f *batchFlusher) add(ctx context.Context, event records.Event) error {
	f.mu.Lock()
	f.pending = append(f.pending, event)
	switch e := event.(type) {
	case records.Record:
		f.lastPos = e.Pos
	case records.SchemaChange:
		f.lastPos = e.Pos
	}
	shouldFlush := len(f.pending) >= binlogFlushSize
	f.mu.Unlock()

	if shouldFlush {
		return f.flush(ctx)
	}
	return nil
}

func (f *batchFlusher) flush(ctx context.Context) error {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	lastPos := f.lastPos
	f.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	// On failure the batch goes back to the front so nothing is dropped; the
	// next flush retries it.
	restore := func() {
		f.mu.Lock()
		f.pending = append(pending, f.pending...)
		f.mu.Unlock()
	}

	msgs, err := f.adapter.BuildMessages(pending)
	if err != nil {
		restore()
		return err
	}

	if _, err = f.writer.Write(ctx, iterator.Once(msgs)); err != nil {
		restore()
		return err
	}

	if f.statsD != nil {
		f.statsD.Count("binlog.records", int64(len(msgs)), nil)
	}

	return f.checkpoints.SaveBinlogOffset(lastPos)
}

func (f *batchFlusher) flushPeriodically(ctx context.Context) {
	ticker := time.NewTicker(binlogFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.flush(ctx); err != nil {
				slog.Error("Failed to flush binlog batch", slog.Any("err", err))
			}
		}
	}
}

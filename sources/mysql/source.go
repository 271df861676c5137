package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terrastream/mysql-cdc/config"
	libmysql "github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/lib/mtr"
	"github.com/terrastream/mysql-cdc/sources/mysql/enumerator"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
	"github.com/terrastream/mysql-cdc/sources/mysql/streaming"
	"github.com/terrastream/mysql-cdc/writers"
)

type Source struct {
	cfg    config.MySQL
	db     *sql.DB
	statsD mtr.Client
}

func Load(ctx context.Context, cfg config.MySQL, statsD mtr.Client) (*Source, error) {
	db, err := libmysql.Connect(ctx, cfg.ToDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	if err = validateServer(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("server validation failed: %w", err)
	}

	return &Source{cfg: cfg, db: db, statsD: statsD}, nil
}

func (s *Source) Close() error {
	return s.db.Close()
}

// Run executes the configured pipeline: either the full parallel snapshot
// protocol followed by the binlog tail (initial mode), or a plain tail from a
// resolved offset (all other startup modes).
func (s *Source) Run(ctx context.Context, writer writers.Writer) error {
	schemas, err := s.loadSchemas(ctx)
	if err != nil {
		return err
	}

	serverIDLow, _, err := s.cfg.ServerIDRange()
	if err != nil {
		return err
	}

	checkpoints := newCheckpointStore(s.cfg.Checkpoint.StateFile)
	schemaHistory := streaming.NewSchemaHistoryStore(s.cfg.SchemaHistoryFile)
	adapter, err := newMessageAdapter(schemas, s.cfg.Tables)
	if err != nil {
		return err
	}

	if s.cfg.Startup.GetMode() != config.StartupModeInitial {
		return s.runTailOnly(ctx, writer, schemas, adapter, serverIDLow, checkpoints, schemaHistory)
	}

	return s.runSnapshotAndTail(ctx, writer, schemas, adapter, serverIDLow, checkpoints, schemaHistory)
}

// runSnapshotAndTail drives the split protocol: the enumerator plans and
// assigns chunks across the worker pool, checkpoints make the finished set
// durable, and the binlog split is handed to the lowest-numbered worker once
// every chunk is acked.
func (s *Source) runSnapshotAndTail(
	ctx context.Context,
	writer writers.Writer,
	schemas map[string]libmysql.Table,
	adapter *messageAdapter,
	serverIDLow uint32,
	checkpoints *checkpointStore,
	schemaHistory *streaming.SchemaHistoryStore,
) error {
	assigner, restored, err := s.buildAssigner(checkpoints)
	if err != nil {
		return err
	}

	// If a previous run already handed the tail off, there is no snapshot
	// phase left: rebuild the binlog split from the checkpointed finished set
	// and resume tailing directly.
	if restored != nil && restored.BinlogEmitted {
		split, err := splits.NewBinlogSplit(restored.Finished)
		if err != nil {
			return fmt.Errorf("failed to rebuild binlog split from checkpoint: %w", err)
		}

		wkr := &worker{
			id:            0,
			serverID:      serverIDLow,
			cfg:           s.cfg,
			writer:        &writer,
			adapter:       adapter,
			schemas:       schemas,
			checkpoints:   checkpoints,
			schemaHistory: schemaHistory,
			statsD:        s.statsD,
		}
		return wkr.tailBinlog(ctx, split, streaming.NewTailer(s.cfg, serverIDLow, schemas))
	}

	gateway := newLocalGateway()
	enum := enumerator.New(gateway, assigner, nil)
	if err = enum.Start(ctx); err != nil {
		return err
	}
	defer enum.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)

	parallelism := s.cfg.Parallelism()
	slog.Info("Starting snapshot workers",
		slog.Int("parallelism", parallelism),
		slog.Any("chunkSize", s.cfg.Snapshot.GetChunkSize()),
	)

	for i := range parallelism {
		mailbox := gateway.register(i)
		wkr := &worker{
			id:            i,
			serverID:      serverIDLow + uint32(i),
			cfg:           s.cfg,
			enum:          enum,
			events:        mailbox,
			writer:        &writer,
			adapter:       adapter,
			schemas:       schemas,
			checkpoints:   checkpoints,
			schemaHistory: schemaHistory,
			statsD:        s.statsD,
		}
		group.Go(func() error {
			defer gateway.deregister(wkr.id)
			return wkr.run(groupCtx)
		})
	}

	group.Go(func() error {
		return s.runCheckpoints(groupCtx, enum, checkpoints)
	})

	return group.Wait()
}

// runCheckpoints periodically snapshots the planner state, persists it, and
// only then reports the checkpoint complete; the assigner withholds the binlog
// split until the finished set has survived one of these cycles.
func (s *Source) runCheckpoints(ctx context.Context, enum *enumerator.Enumerator, checkpoints *checkpointStore) error {
	ticker := time.NewTicker(s.cfg.Checkpoint.GetInterval())
	defer ticker.Stop()

	var checkpointID int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			checkpointID++
			state := enum.SnapshotState(checkpointID)
			if err := checkpoints.SaveAssignerState(state); err != nil {
				return fmt.Errorf("failed to persist checkpoint %d: %w", checkpointID, err)
			}
			enum.NotifyCheckpointComplete(checkpointID)
		}
	}
}

// runTailOnly skips the snapshot protocol entirely and tails from the offset
// the startup mode resolves to.
func (s *Source) runTailOnly(
	ctx context.Context,
	writer writers.Writer,
	schemas map[string]libmysql.Table,
	adapter *messageAdapter,
	serverID uint32,
	checkpoints *checkpointStore,
	schemaHistory *streaming.SchemaHistoryStore,
) error {
	startOffset, err := resolveStartupOffset(ctx, s.db, s.cfg, serverID)
	if err != nil {
		return fmt.Errorf("failed to resolve startup offset: %w", err)
	}

	split := splits.BinlogSplit{
		ID:          splits.BinlogSplitID,
		StartOffset: startOffset,
		Stop:        libmysql.StopNever,
		Schemas:     schemas,
	}

	wkr := &worker{
		id:            0,
		serverID:      serverID,
		cfg:           s.cfg,
		writer:        &writer,
		adapter:       adapter,
		schemas:       schemas,
		checkpoints:   checkpoints,
		schemaHistory: schemaHistory,
		statsD:        s.statsD,
	}

	tailer := streaming.NewTailer(s.cfg, serverID, schemas)
	return wkr.tailBinlog(ctx, split, tailer)
}

func (s *Source) buildAssigner(checkpoints *checkpointStore) (*splits.SplitAssigner, *splits.AssignerState, error) {
	state, err := checkpoints.LoadAssignerState()
	if err != nil {
		return nil, nil, err
	}

	if state != nil {
		slog.Info("Restoring split assigner from checkpoint",
			slog.Int("remaining", len(state.Remaining)+len(state.Assigned)),
			slog.Int("finished", len(state.Finished)),
			slog.Bool("binlogEmitted", state.BinlogEmitted),
		)
		return splits.RestoreSplitAssigner(*state), state, nil
	}

	return splits.NewSplitAssigner(s.planChunks), nil, nil
}

func (s *Source) planChunks(ctx context.Context) ([]splits.SnapshotSplit, error) {
	schemas, err := s.loadSchemas(ctx)
	if err != nil {
		return nil, err
	}

	var planned []splits.SnapshotSplit
	for _, schema := range sortedSchemas(schemas) {
		planner, err := splits.NewChunkPlanner(schema, s.cfg.Snapshot.GetChunkSize())
		if err != nil {
			return nil, err
		}

		cursor := splits.NewSQLKeyCursor(s.db, schema.ID, planner.KeyColumn())
		tableSplits, err := planner.Plan(ctx, cursor)
		if err != nil {
			return nil, err
		}
		planned = append(planned, tableSplits...)
	}
	return planned, nil
}

func (s *Source) loadSchemas(ctx context.Context) (map[string]libmysql.Table, error) {
	schemas := make(map[string]libmysql.Table, len(s.cfg.Tables))
	for _, tableCfg := range s.cfg.Tables {
		tableID := libmysql.ParseTableID(tableCfg.Name, s.cfg.Database)
		table, err := libmysql.LoadTable(ctx, s.db, tableID)
		if err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", tableID, err)
		}
		schemas[tableID.String()] = *table
	}
	return schemas, nil
}

func sortedSchemas(schemas map[string]libmysql.Table) []libmysql.Table {
	keys := make([]string, 0, len(schemas))
	for key := range schemas {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	sorted := make([]libmysql.Table, 0, len(keys))
	for _, key := range keys {
		sorted = append(sorted, schemas[key])
	}
	return sorted
}

package mysql

import (
	"fmt"

	libmysql "github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/lib/storage/persistedmap"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

const (
	checkpointAssignerKey = "assigner"
	checkpointOffsetKey   = "binlogOffset"
)

// checkpointStore persists planner state and the tail's committed offset. A
// nil store (no state file configured) makes every operation a no-op, so the
// connector can run without durability for ad hoc jobs.
type checkpointStore struct {
	state *persistedmap.PersistedMap[string]
}

func newCheckpointStore(filePath string) *checkpointStore {
	if filePath == "" {
		return nil
	}
	return &checkpointStore{state: persistedmap.NewPersistedMap[string](filePath)}
}

func (c *checkpointStore) SaveAssignerState(state splits.AssignerState) error {
	if c == nil {
		return nil
	}

	data, err := splits.MarshalAssignerState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal assigner state: %w", err)
	}
	return c.state.Set(checkpointAssignerKey, string(data))
}

func (c *checkpointStore) LoadAssignerState() (*splits.AssignerState, error) {
	if c == nil {
		return nil, nil
	}

	data, isOk := c.state.Get(checkpointAssignerKey)
	if !isOk {
		return nil, nil
	}

	state, err := splits.UnmarshalAssignerState([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal assigner state: %w", err)
	}
	return &state, nil
}

func (c *checkpointStore) SaveBinlogOffset(offset libmysql.BinlogOffset) error {
	if c == nil {
		return nil
	}
	return c.state.Set(checkpointOffsetKey, offset.String())
}

func (c *checkpointStore) LoadBinlogOffset() (*libmysql.BinlogOffset, error) {
	if c == nil {
		return nil, nil
	}

	value, isOk := c.state.Get(checkpointOffsetKey)
	if !isOk {
		return nil, nil
	}

	offset, err := libmysql.ParseBinlogOffset(value)
	if err != nil {
		return nil, err
	}
	return &offset, nil
}

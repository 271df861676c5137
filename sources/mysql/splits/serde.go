package splits

import (
	"encoding/json"
	"fmt"

	"github.com/terrastream/mysql-cdc/lib/mysql"
)

// SerdeVersion tags every serialized split and checkpoint payload so the wire
// form can evolve.
const SerdeVersion = 1

const (
	kindSnapshot = "snapshot"
	kindBinlog   = "binlog"
)

type splitEnvelope struct {
	Version int             `json:"version"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type snapshotSplitJSON struct {
	ID            string                 `json:"id"`
	Table         mysql.TableID          `json:"table"`
	KeyColumns    []KeyColumn            `json:"keyColumns"`
	Start         []string               `json:"start,omitempty"`
	End           []string               `json:"end,omitempty"`
	HighWatermark *mysql.BinlogOffset    `json:"highWatermark,omitempty"`
	Schemas       map[string]mysql.Table `json:"schemas,omitempty"`
}

type finishedChunkJSON struct {
	Table         mysql.TableID      `json:"table"`
	SplitID       string             `json:"splitId"`
	Start         []string           `json:"start,omitempty"`
	End           []string           `json:"end,omitempty"`
	HighWatermark mysql.BinlogOffset `json:"highWatermark"`
}

type binlogSplitJSON struct {
	ID             string                 `json:"id"`
	KeyColumns     []KeyColumn            `json:"keyColumns"`
	StartOffset    mysql.BinlogOffset     `json:"startOffset"`
	Stop           mysql.StopCondition    `json:"stop"`
	FinishedChunks []finishedChunkJSON    `json:"finishedChunks"`
	Schemas        map[string]mysql.Table `json:"schemas,omitempty"`
}

func snapshotSplitToJSON(split SnapshotSplit) (snapshotSplitJSON, error) {
	start, err := encodeKey(split.KeyColumns, split.Start)
	if err != nil {
		return snapshotSplitJSON{}, fmt.Errorf("failed to encode split start: %w", err)
	}

	end, err := encodeKey(split.KeyColumns, split.End)
	if err != nil {
		return snapshotSplitJSON{}, fmt.Errorf("failed to encode split end: %w", err)
	}

	return snapshotSplitJSON{
		ID:            split.ID,
		Table:         split.Table,
		KeyColumns:    split.KeyColumns,
		Start:         start,
		End:           end,
		HighWatermark: split.HighWatermark,
		Schemas:       split.Schemas,
	}, nil
}

func snapshotSplitFromJSON(raw snapshotSplitJSON) (SnapshotSplit, error) {
	start, err := decodeKey(raw.KeyColumns, raw.Start)
	if err != nil {
		return SnapshotSplit{}, fmt.Errorf("failed to decode split start: %w", err)
	}

	end, err := decodeKey(raw.KeyColumns, raw.End)
	if err != nil {
		return SnapshotSplit{}, fmt.Errorf("failed to decode split end: %w", err)
	}

	return SnapshotSplit{
		ID:            raw.ID,
		Table:         raw.Table,
		KeyColumns:    raw.KeyColumns,
		Start:         start,
		End:           end,
		HighWatermark: raw.HighWatermark,
		Schemas:       raw.Schemas,
	}, nil
}

func finishedChunkToJSON(columns []KeyColumn, chunk FinishedChunk) (finishedChunkJSON, error) {
	start, err := encodeKey(columns, chunk.Start)
	if err != nil {
		return finishedChunkJSON{}, fmt.Errorf("failed to encode chunk start: %w", err)
	}

	end, err := encodeKey(columns, chunk.End)
	if err != nil {
		return finishedChunkJSON{}, fmt.Errorf("failed to encode chunk end: %w", err)
	}

	return finishedChunkJSON{
		Table:         chunk.Table,
		SplitID:       chunk.SplitID,
		Start:         start,
		End:           end,
		HighWatermark: chunk.HighWatermark,
	}, nil
}

func finishedChunkFromJSON(columns []KeyColumn, raw finishedChunkJSON) (FinishedChunk, error) {
	start, err := decodeKey(columns, raw.Start)
	if err != nil {
		return FinishedChunk{}, fmt.Errorf("failed to decode chunk start: %w", err)
	}

	end, err := decodeKey(columns, raw.End)
	if err != nil {
		return FinishedChunk{}, fmt.Errorf("failed to decode chunk end: %w", err)
	}

	return FinishedChunk{
		Table:         raw.Table,
		SplitID:       raw.SplitID,
		Start:         start,
		End:           end,
		HighWatermark: raw.HighWatermark,
	}, nil
}

// MarshalSplit serializes either split variant into the versioned wire form.
func MarshalSplit(split Split) ([]byte, error) {
	switch s := split.(type) {
	case SnapshotSplit:
		raw, err := snapshotSplitToJSON(s)
		if err != nil {
			return nil, err
		}

		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot split: %w", err)
		}
		return json.Marshal(splitEnvelope{Version: SerdeVersion, Kind: kindSnapshot, Payload: payload})
	case BinlogSplit:
		chunks := make([]finishedChunkJSON, len(s.FinishedChunks))
		for i, chunk := range s.FinishedChunks {
			raw, err := finishedChunkToJSON(s.KeyColumns, chunk)
			if err != nil {
				return nil, err
			}
			chunks[i] = raw
		}

		payload, err := json.Marshal(binlogSplitJSON{
			ID:             s.ID,
			KeyColumns:     s.KeyColumns,
			StartOffset:    s.StartOffset,
			Stop:           s.Stop,
			FinishedChunks: chunks,
			Schemas:        s.Schemas,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal binlog split: %w", err)
		}
		return json.Marshal(splitEnvelope{Version: SerdeVersion, Kind: kindBinlog, Payload: payload})
	default:
		return nil, fmt.Errorf("unknown split type %T", split)
	}
}

// UnmarshalSplit deserializes the versioned wire form.
func UnmarshalSplit(data []byte) (Split, error) {
	var envelope splitEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal split envelope: %w", err)
	}

	if envelope.Version != SerdeVersion {
		return nil, fmt.Errorf("unsupported split version %d", envelope.Version)
	}

	switch envelope.Kind {
	case kindSnapshot:
		var raw snapshotSplitJSON
		if err := json.Unmarshal(envelope.Payload, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot split: %w", err)
		}
		return snapshotSplitFromJSON(raw)
	case kindBinlog:
		var raw binlogSplitJSON
		if err := json.Unmarshal(envelope.Payload, &raw); err != nil {
			return nil, fmt.Errorf("failed to unmarshal binlog split: %w", err)
		}

		chunks := make([]FinishedChunk, len(raw.FinishedChunks))
		for i, rawChunk := range raw.FinishedChunks {
			chunk, err := finishedChunkFromJSON(raw.KeyColumns, rawChunk)
			if err != nil {
				return nil, err
			}
			chunks[i] = chunk
		}

		return BinlogSplit{
			ID:             raw.ID,
			KeyColumns:     raw.KeyColumns,
			StartOffset:    raw.StartOffset,
			Stop:           raw.Stop,
			FinishedChunks: chunks,
			Schemas:        raw.Schemas,
		}, nil
	default:
		return nil, fmt.Errorf("unknown split kind %q", envelope.Kind)
	}
}

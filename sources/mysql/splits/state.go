package splits

import (
	"encoding/json"
	"fmt"
)

// AssignerState is the checkpointed view of the assigner: which chunks remain,
// which are out with workers, which finished (with watermarks), which finished
// chunks are already durable, and whether the binlog split went out.
type AssignerState struct {
	Remaining       []SnapshotSplit
	Assigned        []SnapshotSplit
	Finished        []SnapshotSplit
	DurableFinished []string
	BinlogEmitted   bool
}

type assignerStateJSON struct {
	Version         int                 `json:"version"`
	Remaining       []snapshotSplitJSON `json:"remaining"`
	Assigned        []snapshotSplitJSON `json:"assigned"`
	Finished        []snapshotSplitJSON `json:"finished"`
	DurableFinished []string            `json:"durableFinished"`
	BinlogEmitted   bool                `json:"binlogEmitted"`
}

func encodeSplitList(splits []SnapshotSplit) ([]snapshotSplitJSON, error) {
	encoded := make([]snapshotSplitJSON, len(splits))
	for i, split := range splits {
		raw, err := snapshotSplitToJSON(split)
		if err != nil {
			return nil, err
		}
		encoded[i] = raw
	}
	return encoded, nil
}

func decodeSplitList(raws []snapshotSplitJSON) ([]SnapshotSplit, error) {
	decoded := make([]SnapshotSplit, len(raws))
	for i, raw := range raws {
		split, err := snapshotSplitFromJSON(raw)
		if err != nil {
			return nil, err
		}
		decoded[i] = split
	}
	return decoded, nil
}

// MarshalAssignerState serializes checkpoint state with a leading version tag.
func MarshalAssignerState(state AssignerState) ([]byte, error) {
	remaining, err := encodeSplitList(state.Remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to encode remaining splits: %w", err)
	}

	assigned, err := encodeSplitList(state.Assigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode assigned splits: %w", err)
	}

	finished, err := encodeSplitList(state.Finished)
	if err != nil {
		return nil, fmt.Errorf("failed to encode finished splits: %w", err)
	}

	return json.Marshal(assignerStateJSON{
		Version:         SerdeVersion,
		Remaining:       remaining,
		Assigned:        assigned,
		Finished:        finished,
		DurableFinished: state.DurableFinished,
		BinlogEmitted:   state.BinlogEmitted,
	})
}

// UnmarshalAssignerState deserializes checkpoint state.
func UnmarshalAssignerState(data []byte) (AssignerState, error) {
	var raw assignerStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return AssignerState{}, fmt.Errorf("failed to unmarshal assigner state: %w", err)
	}

	if raw.Version != SerdeVersion {
		return AssignerState{}, fmt.Errorf("unsupported assigner state version %d", raw.Version)
	}

	remaining, err := decodeSplitList(raw.Remaining)
	if err != nil {
		return AssignerState{}, fmt.Errorf("failed to decode remaining splits: %w", err)
	}

	assigned, err := decodeSplitList(raw.Assigned)
	if err != nil {
		return AssignerState{}, fmt.Errorf("failed to decode assigned splits: %w", err)
	}

	finished, err := decodeSplitList(raw.Finished)
	if err != nil {
		return AssignerState{}, fmt.Errorf("failed to decode finished splits: %w", err)
	}

	return AssignerState{
		Remaining:       remaining,
		Assigned:        assigned,
		Finished:        finished,
		DurableFinished: raw.DurableFinished,
		BinlogEmitted:   raw.BinlogEmitted,
	}, nil
}

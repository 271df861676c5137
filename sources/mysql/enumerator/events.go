package enumerator

import (
	"encoding/json"
	"fmt"

	"github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/splits"
)

// Events exchanged between the planner and its workers. Both directions are
// closed sets so transports can switch exhaustively, and every event has a
// serialized form for transports that cross a process boundary.

// WorkerEvent travels worker -> planner.
type WorkerEvent interface {
	WorkerID() int
	isWorkerEvent()
}

// SplitRequest asks the planner for the next split.
type SplitRequest struct {
	Worker int `json:"worker"`
}

func (e SplitRequest) WorkerID() int  { return e.Worker }
func (e SplitRequest) isWorkerEvent() {}

// FinishReport carries the high watermarks of chunks the worker finished.
// Workers repeat the report until the planner acknowledges it.
type FinishReport struct {
	Worker  int                           `json:"worker"`
	Offsets map[string]mysql.BinlogOffset `json:"offsets"`
}

func (e FinishReport) WorkerID() int  { return e.Worker }
func (e FinishReport) isWorkerEvent() {}

// PlannerEvent travels planner -> worker.
type PlannerEvent interface {
	isPlannerEvent()
}

// SplitAssignment hands a split to the worker.
type SplitAssignment struct {
	Split splits.Split
}

func (e SplitAssignment) isPlannerEvent() {}

// SplitAddback returns splits to the planner pool on worker loss. It is issued
// by the host runtime rather than the worker itself.
type SplitAddback struct {
	Splits []splits.SnapshotSplit
}

func (e SplitAddback) isPlannerEvent() {}

// FinishAck tells the worker which finish reports arrived; the worker drops
// them from its retry list.
type FinishAck struct {
	SplitIDs []string `json:"splitIds"`
}

func (e FinishAck) isPlannerEvent() {}

// FinishSolicit asks workers to re-send finished-but-unacked reports. The
// planner broadcasts it on a timer to recover from dropped events.
type FinishSolicit struct{}

func (e FinishSolicit) isPlannerEvent() {}

const (
	eventKindSplitRequest    = "splitRequest"
	eventKindFinishReport    = "finishReport"
	eventKindSplitAssignment = "splitAssignment"
	eventKindSplitAddback    = "splitAddback"
	eventKindFinishAck       = "finishAck"
	eventKindFinishSolicit   = "finishSolicit"
)

type eventEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type splitAddbackJSON struct {
	Splits []json.RawMessage `json:"splits"`
}

// MarshalEvent serializes any planner or worker event.
func MarshalEvent(event any) ([]byte, error) {
	switch e := event.(type) {
	case SplitRequest:
		return marshalEnvelope(eventKindSplitRequest, e)
	case FinishReport:
		return marshalEnvelope(eventKindFinishReport, e)
	case SplitAssignment:
		splitData, err := splits.MarshalSplit(e.Split)
		if err != nil {
			return nil, err
		}
		return json.Marshal(eventEnvelope{Kind: eventKindSplitAssignment, Payload: splitData})
	case SplitAddback:
		raw := splitAddbackJSON{Splits: make([]json.RawMessage, len(e.Splits))}
		for i, split := range e.Splits {
			splitData, err := splits.MarshalSplit(split)
			if err != nil {
				return nil, err
			}
			raw.Splits[i] = splitData
		}
		return marshalEnvelope(eventKindSplitAddback, raw)
	case FinishAck:
		return marshalEnvelope(eventKindFinishAck, e)
	case FinishSolicit:
		return json.Marshal(eventEnvelope{Kind: eventKindFinishSolicit})
	default:
		return nil, fmt.Errorf("unknown event type %T", event)
	}
}

func marshalEnvelope(kind string, payload any) ([]byte, error) {
	payloadData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return json.Marshal(eventEnvelope{Kind: kind, Payload: payloadData})
}

// UnmarshalEvent deserializes an event produced by MarshalEvent.
func UnmarshalEvent(data []byte) (any, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	switch envelope.Kind {
	case eventKindSplitRequest:
		var event SplitRequest
		return event, json.Unmarshal(envelope.Payload, &event)
	case eventKindFinishReport:
		var event FinishReport
		return event, json.Unmarshal(envelope.Payload, &event)
	case eventKindSplitAssignment:
		split, err := splits.UnmarshalSplit(envelope.Payload)
		if err != nil {
			return nil, err
		}
		return SplitAssignment{Split: split}, nil
	case eventKindSplitAddback:
		var raw splitAddbackJSON
		if err := json.Unmarshal(envelope.Payload, &raw); err != nil {
			return nil, err
		}

		event := SplitAddback{Splits: make([]splits.SnapshotSplit, len(raw.Splits))}
		for i, splitData := range raw.Splits {
			split, err := splits.UnmarshalSplit(splitData)
			if err != nil {
				return nil, err
			}

			snapshotSplit, isOk := split.(splits.SnapshotSplit)
			if !isOk {
				return nil, fmt.Errorf("split addback carries non-snapshot split %q", split.SplitID())
			}
			event.Splits[i] = snapshotSplit
		}
		return event, nil
	case eventKindFinishAck:
		var event FinishAck
		return event, json.Unmarshal(envelope.Payload, &event)
	case eventKindFinishSolicit:
		return FinishSolicit{}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", envelope.Kind)
	}
}

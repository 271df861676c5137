package mysql

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BinlogOffset is a position in the server's binary log. Offsets are totally
// ordered: lexicographically by file name (binlog files are numbered), then
// numerically by position within the file.
type BinlogOffset struct {
	File string `yaml:"file" json:"file"`
	Pos  int64  `yaml:"pos" json:"pos"`
}

// InitialOffset is the zero offset, ordered before every real binlog position.
var InitialOffset = BinlogOffset{}

func NewBinlogOffset(file string, pos int64) BinlogOffset {
	return BinlogOffset{File: file, Pos: pos}
}

// ParseBinlogOffset parses the "<file>:<pos>" wire form.
func ParseBinlogOffset(value string) (BinlogOffset, error) {
	file, rawPos, found := strings.Cut(value, ":")
	if !found {
		return BinlogOffset{}, fmt.Errorf("offset %q is not in <file>:<pos> form", value)
	}

	pos, err := strconv.ParseInt(rawPos, 10, 64)
	if err != nil {
		return BinlogOffset{}, fmt.Errorf("failed to parse offset position %q: %w", rawPos, err)
	}

	return BinlogOffset{File: file, Pos: pos}, nil
}

func (b BinlogOffset) String() string {
	return fmt.Sprintf("%s:%d", b.File, b.Pos)
}

func (b BinlogOffset) IsZero() bool {
	return b == InitialOffset
}

func (b BinlogOffset) Compare(other BinlogOffset) int {
	if b.File == other.File {
		return cmp.Compare(b.Pos, other.Pos)
	}
	return cmp.Compare(b.File, other.File)
}

func (b BinlogOffset) Before(other BinlogOffset) bool {
	return b.Compare(other) < 0
}

func (b BinlogOffset) AtOrBefore(other BinlogOffset) bool {
	return b.Compare(other) <= 0
}

// AtOrAfter reports that other is not strictly after b.
func (b BinlogOffset) AtOrAfter(other BinlogOffset) bool {
	return b.Compare(other) >= 0
}

// MinOffset returns the smaller of two offsets.
func MinOffset(a, b BinlogOffset) BinlogOffset {
	if a.AtOrBefore(b) {
		return a
	}
	return b
}

// StopCondition says where a binlog tail should end. The zero value never stops.
// It is a distinguished variant rather than a sentinel offset so that it cannot
// collide with the natural offset order.
type StopCondition struct {
	at *BinlogOffset
}

var StopNever = StopCondition{}

func StopAt(offset BinlogOffset) StopCondition {
	return StopCondition{at: &offset}
}

func (s StopCondition) Never() bool {
	return s.at == nil
}

// Reached reports whether the tail should stop at the given offset.
func (s StopCondition) Reached(offset BinlogOffset) bool {
	if s.at == nil {
		return false
	}
	return offset.AtOrAfter(*s.at)
}

func (s StopCondition) String() string {
	if s.at == nil {
		return "never"
	}
	return s.at.String()
}

type stopConditionJSON struct {
	Never bool          `json:"never,omitempty"`
	At    *BinlogOffset `json:"at,omitempty"`
}

func (s StopCondition) MarshalJSON() ([]byte, error) {
	if s.at == nil {
		return json.Marshal(stopConditionJSON{Never: true})
	}
	return json.Marshal(stopConditionJSON{At: s.at})
}

func (s *StopCondition) UnmarshalJSON(data []byte) error {
	var raw stopConditionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Never {
		s.at = nil
		return nil
	}

	if raw.At == nil {
		return fmt.Errorf("stop condition must set either never or at")
	}

	s.at = raw.At
	return nil
}

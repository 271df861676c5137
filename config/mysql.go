package config

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/terrastream/mysql-cdc/constants"
)

type StartupMode string

const (
	StartupModeInitial        StartupMode = "initial"
	StartupModeEarliestOffset StartupMode = "earliest-offset"
	StartupModeLatestOffset   StartupMode = "latest-offset"
	StartupModeSpecificOffset StartupMode = "specific-offset"
	StartupModeTimestamp      StartupMode = "timestamp"
)

type SnapshotSettings struct {
	// ParallelRead - enables the chunk-based parallel snapshot protocol.
	ParallelRead bool `yaml:"parallelRead,omitempty"`
	// ChunkSize - target rows per snapshot chunk.
	ChunkSize uint `yaml:"chunkSize,omitempty"`
	// FetchSize - rows fetched per poll while reading a chunk.
	FetchSize uint `yaml:"fetchSize,omitempty"`
}

func (s SnapshotSettings) GetChunkSize() uint {
	return cmp.Or(s.ChunkSize, uint(constants.DefaultChunkSize))
}

func (s SnapshotSettings) GetFetchSize() uint {
	return cmp.Or(s.FetchSize, uint(constants.DefaultFetchSize))
}

type StartupSettings struct {
	Mode StartupMode `yaml:"mode,omitempty"`
	// SpecificOffsetFile, SpecificOffsetPos - required when mode is specific-offset.
	SpecificOffsetFile string `yaml:"specificOffsetFile,omitempty"`
	SpecificOffsetPos  int64  `yaml:"specificOffsetPos,omitempty"`
	// TimestampMillis - required when mode is timestamp.
	TimestampMillis int64 `yaml:"timestampMillis,omitempty"`
}

func (s StartupSettings) GetMode() StartupMode {
	return cmp.Or(s.Mode, StartupModeInitial)
}

type CheckpointSettings struct {
	StateFile       string `yaml:"stateFile,omitempty"`
	IntervalSeconds uint   `yaml:"intervalSeconds,omitempty"`
}

func (c CheckpointSettings) GetInterval() time.Duration {
	return time.Duration(cmp.Or(c.IntervalSeconds, 60)) * time.Second
}

type MySQLTable struct {
	Name string `yaml:"name"`
	// Optional settings
	ExcludeColumns []string `yaml:"excludeColumns,omitempty"`
	// IncludeColumns - List of columns that should be included in the change event record.
	IncludeColumns []string `yaml:"includeColumns,omitempty"`
}

type MySQL struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Database string        `yaml:"database"`
	Tables   []*MySQLTable `yaml:"tables"`

	// ServerTimeZone - session timezone used for temporal decoding, e.g. "UTC".
	ServerTimeZone string `yaml:"serverTimeZone,omitempty"`
	// ServerID - unique binlog client id. A range "A-B" is required for parallel reads;
	// worker i connects with id A+i.
	ServerID string `yaml:"serverID"`
	// ConnectTimeoutSeconds - bound on the initial database handshake.
	ConnectTimeoutSeconds uint `yaml:"connectTimeoutSeconds,omitempty"`

	Snapshot          SnapshotSettings   `yaml:"snapshot,omitempty"`
	Startup           StartupSettings    `yaml:"startup,omitempty"`
	Checkpoint        CheckpointSettings `yaml:"checkpoint,omitempty"`
	SchemaHistoryFile string             `yaml:"schemaHistoryFile,omitempty"`
}

func (m *MySQL) GetConnectTimeout() time.Duration {
	return time.Duration(cmp.Or(m.ConnectTimeoutSeconds, uint(constants.DefaultConnectTimeoutSeconds))) * time.Second
}

func (m *MySQL) ToDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = m.Username
	cfg.Passwd = m.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", m.Host, m.Port)
	cfg.DBName = m.Database
	cfg.Timeout = m.GetConnectTimeout()
	if m.ServerTimeZone != "" {
		cfg.Params = map[string]string{"time_zone": fmt.Sprintf("'%s'", m.ServerTimeZone)}
	}
	return cfg.FormatDSN()
}

// ServerIDRange returns the configured binlog client id range. A single id "A" is
// treated as the range [A, A].
func (m *MySQL) ServerIDRange() (uint32, uint32, error) {
	low, high, found := strings.Cut(m.ServerID, "-")
	lowID, err := strconv.ParseUint(strings.TrimSpace(low), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse server id %q: %w", m.ServerID, err)
	}

	if !found {
		return uint32(lowID), uint32(lowID), nil
	}

	highID, err := strconv.ParseUint(strings.TrimSpace(high), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse server id %q: %w", m.ServerID, err)
	}

	if highID < lowID {
		return 0, 0, fmt.Errorf("server id range %q is inverted", m.ServerID)
	}

	return uint32(lowID), uint32(highID), nil
}

// Parallelism - number of snapshot workers, bounded by the server id range width.
func (m *MySQL) Parallelism() int {
	low, high, err := m.ServerIDRange()
	if err != nil {
		return 1
	}
	return int(high-low) + 1
}

func (m *MySQL) Validate() error {
	if m == nil {
		return fmt.Errorf("MySQL config is nil")
	}

	if m.Host == "" || m.Username == "" || m.Password == "" || m.Database == "" {
		return fmt.Errorf("one of the MySQL settings is empty: host, username, password, database")
	}

	if m.Port <= 0 {
		return fmt.Errorf("port is not set or <= 0")
	} else if m.Port > math.MaxUint16 {
		return fmt.Errorf("port is > %d", math.MaxUint16)
	}

	if len(m.Tables) == 0 {
		return fmt.Errorf("no tables passed in")
	}

	for _, table := range m.Tables {
		if table.Name == "" {
			return fmt.Errorf("table name must be passed in")
		}

		// You should not be able to filter and exclude columns at the same time
		if len(table.ExcludeColumns) > 0 && len(table.IncludeColumns) > 0 {
			return fmt.Errorf("cannot exclude and include columns at the same time")
		}
	}

	if m.ServerID == "" {
		return fmt.Errorf("server id must be passed in")
	}

	if _, _, err := m.ServerIDRange(); err != nil {
		return err
	}

	switch mode := m.Startup.GetMode(); mode {
	case StartupModeInitial, StartupModeEarliestOffset, StartupModeLatestOffset:
	case StartupModeSpecificOffset:
		if m.Startup.SpecificOffsetFile == "" {
			return fmt.Errorf("startup mode %q requires specificOffsetFile", mode)
		}
	case StartupModeTimestamp:
		if m.Startup.TimestampMillis <= 0 {
			return fmt.Errorf("startup mode %q requires timestampMillis", mode)
		}
	default:
		return fmt.Errorf("unknown startup mode %q", mode)
	}

	if m.Snapshot.ParallelRead {
		low, high, err := m.ServerIDRange()
		if err != nil {
			return err
		}

		if low == high && !strings.Contains(m.ServerID, "-") {
			return fmt.Errorf("parallel read requires a server id range, e.g. %q", "5400-5404")
		}

		switch mode := m.Startup.GetMode(); mode {
		case StartupModeInitial, StartupModeLatestOffset:
		default:
			return fmt.Errorf("parallel read only supports startup modes %q and %q, got %q",
				StartupModeInitial, StartupModeLatestOffset, mode)
		}
	}

	return nil
}

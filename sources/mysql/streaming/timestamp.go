package streaming

import (
	"context"
	"fmt"
	"time"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"

	"github.com/terrastream/mysql-cdc/config"
	"github.com/terrastream/mysql-cdc/lib/mysql"
)

const probeTimeout = 10 * time.Second

// ResolveByTimestamp finds the offset to start tailing from so that no event
// committed at or after the target timestamp is missed: the newest binlog file
// whose first event predates the target. Files are probed newest first; each
// probe reads a single event header over its own short replication session.
func ResolveByTimestamp(ctx context.Context, cfg config.MySQL, serverID uint32, files []string, targetMs int64) (mysql.BinlogOffset, error) {
	if len(files) == 0 {
		return mysql.BinlogOffset{}, fmt.Errorf("no binlog files to resolve the timestamp against")
	}

	for i := len(files) - 1; i >= 0; i-- {
		firstEventMs, err := probeFirstEventTimestamp(ctx, cfg, serverID, files[i])
		if err != nil {
			return mysql.BinlogOffset{}, fmt.Errorf("failed to probe binlog file %q: %w", files[i], err)
		}

		if firstEventMs <= targetMs {
			return mysql.NewBinlogOffset(files[i], 4), nil
		}
	}

	// The target predates retention; start from the oldest retained file.
	return mysql.NewBinlogOffset(files[0], 4), nil
}

func probeFirstEventTimestamp(ctx context.Context, cfg config.MySQL, serverID uint32, file string) (int64, error) {
	syncer := replication.NewBinlogSyncer(replication.BinlogSyncerConfig{
		ServerID: serverID,
		Flavor:   gomysql.MySQLFlavor,
		Host:     cfg.Host,
		Port:     uint16(cfg.Port),
		User:     cfg.Username,
		Password: cfg.Password,
	})
	defer syncer.Close()

	streamer, err := syncer.StartSync(gomysql.Position{Name: file, Pos: 4})
	if err != nil {
		return 0, fmt.Errorf("failed to start sync: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	// The format description event at the head of the file carries no useful
	// timestamp on some server versions; take the first event that has one.
	for {
		event, err := streamer.GetEvent(probeCtx)
		if err != nil {
			return 0, fmt.Errorf("failed to read event: %w", err)
		}

		if event.Header.Timestamp > 0 {
			return int64(event.Header.Timestamp) * 1000, nil
		}
	}
}

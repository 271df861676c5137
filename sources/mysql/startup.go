package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/terrastream/mysql-cdc/config"
	libmysql "github.com/terrastream/mysql-cdc/lib/mysql"
	"github.com/terrastream/mysql-cdc/sources/mysql/streaming"
)

// resolveStartupOffset maps a non-initial startup mode to the offset the tail
// begins at. The initial mode never reaches here: its start offset comes out
// of the snapshot protocol.
func resolveStartupOffset(ctx context.Context, db *sql.DB, cfg config.MySQL, serverID uint32) (libmysql.BinlogOffset, error) {
	switch mode := cfg.Startup.GetMode(); mode {
	case config.StartupModeLatestOffset:
		return libmysql.CurrentOffset(ctx, db)
	case config.StartupModeEarliestOffset:
		return libmysql.EarliestOffset(ctx, db)
	case config.StartupModeSpecificOffset:
		return libmysql.NewBinlogOffset(cfg.Startup.SpecificOffsetFile, cfg.Startup.SpecificOffsetPos), nil
	case config.StartupModeTimestamp:
		files, err := libmysql.ListBinaryLogs(ctx, db)
		if err != nil {
			return libmysql.BinlogOffset{}, err
		}
		return streaming.ResolveByTimestamp(ctx, cfg, serverID, files, cfg.Startup.TimestampMillis)
	default:
		return libmysql.BinlogOffset{}, fmt.Errorf("startup mode %q does not resolve to a plain offset", mode)
	}
}

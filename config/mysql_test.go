package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validMySQL() *MySQL {
	return &MySQL{
		Host:     "localhost",
		Port:     3306,
		Username: "root",
		Password: "password",
		Database: "db",
		Tables:   []*MySQLTable{{Name: "orders"}},
		ServerID: "5400-5404",
	}
}

func TestMySQL_Validate(t *testing.T) {
	{
		assert.NoError(t, validMySQL().Validate())
	}
	{
		var cfg *MySQL
		assert.ErrorContains(t, cfg.Validate(), "MySQL config is nil")
	}
	{
		cfg := validMySQL()
		cfg.Host = ""
		assert.ErrorContains(t, cfg.Validate(), "one of the MySQL settings is empty")
	}
	{
		cfg := validMySQL()
		cfg.Port = 0
		assert.ErrorContains(t, cfg.Validate(), "port is not set")

		cfg.Port = 1 << 17
		assert.ErrorContains(t, cfg.Validate(), "port is >")
	}
	{
		cfg := validMySQL()
		cfg.Tables = nil
		assert.ErrorContains(t, cfg.Validate(), "no tables passed in")
	}
	{
		cfg := validMySQL()
		cfg.Tables = []*MySQLTable{{Name: "orders", IncludeColumns: []string{"a"}, ExcludeColumns: []string{"b"}}}
		assert.ErrorContains(t, cfg.Validate(), "cannot exclude and include columns")
	}
	{
		cfg := validMySQL()
		cfg.ServerID = ""
		assert.ErrorContains(t, cfg.Validate(), "server id must be passed in")
	}
	{
		cfg := validMySQL()
		cfg.ServerID = "abc"
		assert.ErrorContains(t, cfg.Validate(), "failed to parse server id")
	}
}

func TestMySQL_ValidateParallelConstraints(t *testing.T) {
	{
		// Parallel read requires a range-form server id.
		cfg := validMySQL()
		cfg.Snapshot.ParallelRead = true
		cfg.ServerID = "5400"
		assert.ErrorContains(t, cfg.Validate(), "requires a server id range")
	}
	{
		// Parallel read only supports initial and latest-offset startup.
		cfg := validMySQL()
		cfg.Snapshot.ParallelRead = true
		cfg.Startup.Mode = StartupModeEarliestOffset
		assert.ErrorContains(t, cfg.Validate(), "only supports startup modes")
	}
	{
		cfg := validMySQL()
		cfg.Snapshot.ParallelRead = true
		cfg.Startup.Mode = StartupModeLatestOffset
		assert.NoError(t, cfg.Validate())
	}
}

func TestMySQL_ValidateStartupModes(t *testing.T) {
	{
		cfg := validMySQL()
		cfg.Startup.Mode = StartupModeSpecificOffset
		assert.ErrorContains(t, cfg.Validate(), "requires specificOffsetFile")

		cfg.Startup.SpecificOffsetFile = "mysql-bin.000001"
		assert.NoError(t, cfg.Validate())
	}
	{
		cfg := validMySQL()
		cfg.Startup.Mode = StartupModeTimestamp
		assert.ErrorContains(t, cfg.Validate(), "requires timestampMillis")

		cfg.Startup.TimestampMillis = 1700000000000
		assert.NoError(t, cfg.Validate())
	}
	{
		cfg := validMySQL()
		cfg.Startup.Mode = "bogus"
		assert.ErrorContains(t, cfg.Validate(), "unknown startup mode")
	}
}

func TestMySQL_ServerIDRange(t *testing.T) {
	{
		cfg := validMySQL()
		low, high, err := cfg.ServerIDRange()
		assert.NoError(t, err)
		assert.Equal(t, uint32(5400), low)
		assert.Equal(t, uint32(5404), high)
		assert.Equal(t, 5, cfg.Parallelism())
	}
	{
		cfg := validMySQL()
		cfg.ServerID = "5400"
		low, high, err := cfg.ServerIDRange()
		assert.NoError(t, err)
		assert.Equal(t, low, high)
		assert.Equal(t, 1, cfg.Parallelism())
	}
	{
		cfg := validMySQL()
		cfg.ServerID = "5404-5400"
		_, _, err := cfg.ServerIDRange()
		assert.ErrorContains(t, err, "is inverted")
	}
}

func TestMySQL_Defaults(t *testing.T) {
	cfg := validMySQL()
	assert.Equal(t, uint(8096), cfg.Snapshot.GetChunkSize())
	assert.Equal(t, uint(1024), cfg.Snapshot.GetFetchSize())
	assert.Equal(t, 30*time.Second, cfg.GetConnectTimeout())
	assert.Equal(t, StartupModeInitial, cfg.Startup.GetMode())
}

func TestMySQL_ToDSN(t *testing.T) {
	cfg := validMySQL()
	cfg.ServerTimeZone = "UTC"
	dsn := cfg.ToDSN()
	assert.Contains(t, dsn, "root:password@tcp(localhost:3306)/db")
	assert.Contains(t, dsn, "timeout=30s")
	assert.Contains(t, dsn, "time_zone=")
}

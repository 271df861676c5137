package constants

type contextKey string

const MtrKey contextKey = "__mtr"

const (
	// DefaultChunkSize - target number of rows per snapshot chunk.
	DefaultChunkSize = 8096
	// DefaultFetchSize - rows fetched per poll while reading a chunk.
	DefaultFetchSize = 1024
	// DefaultPublishSize - Kafka messages per publish batch.
	DefaultPublishSize = 2500
	// DefaultConnectTimeoutSeconds - MySQL handshake timeout.
	DefaultConnectTimeoutSeconds = 30
)

package sources

import (
	"context"

	"github.com/terrastream/mysql-cdc/writers"
)

type Source interface {
	Close() error
	Run(ctx context.Context, writer writers.Writer) error
}

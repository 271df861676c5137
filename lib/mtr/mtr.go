package mtr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/terrastream/mysql-cdc/constants"
	"github.com/terrastream/mysql-cdc/lib/logger"
)

const (
	DefaultNamespace = "mysqlcdc."
	// DefaultAddr is the default address for where the DD agent would be running on a single host machine
	DefaultAddr = "127.0.0.1:8125"
)

type Client interface {
	Timing(name string, value time.Duration, tags map[string]string)
	Incr(name string, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Count(name string, value int64, tags map[string]string)
	Flush()
}

type statsClient struct {
	client *statsd.Client
	rate   float64
}

func New(namespace string, tags []string, samplingRate float64) (Client, error) {
	address := DefaultAddr
	host := os.Getenv("TELEMETRY_HOST")
	port := os.Getenv("TELEMETRY_PORT")
	if host != "" && port != "" {
		address = fmt.Sprintf("%s:%s", host, port)
		slog.Info("Overriding telemetry address with env vars", slog.String("address", address))
	}

	if namespace == "" {
		namespace = DefaultNamespace
	}

	datadogClient, err := statsd.New(address,
		statsd.WithNamespace(namespace),
		statsd.WithTags(tags),
	)
	if err != nil {
		return nil, err
	}

	return &statsClient{
		client: datadogClient,
		rate:   samplingRate,
	}, nil
}

func InjectIntoContext(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, constants.MtrKey, client)
}

func FromContext(ctx context.Context) Client {
	metricsClientVal := ctx.Value(constants.MtrKey)
	if metricsClientVal == nil {
		logger.Fatal("Metrics client is nil")
	}

	metricsClient, isOk := metricsClientVal.(Client)
	if !isOk {
		logger.Fatal("Metrics client is not mtr.Client type")
	}

	return metricsClient
}

func toDatadogTags(tags map[string]string) []string {
	var retTags []string
	for key, val := range tags {
		retTags = append(retTags, fmt.Sprintf("%s:%s", key, val))
	}

	return retTags
}

func (s *statsClient) Flush() {
	_ = s.client.Flush()
}

func (s *statsClient) Count(name string, value int64, tags map[string]string) {
	_ = s.client.Count(name, value, toDatadogTags(tags), s.rate)
}

func (s *statsClient) Timing(name string, value time.Duration, tags map[string]string) {
	_ = s.client.Timing(name, value, toDatadogTags(tags), s.rate)
}

func (s *statsClient) Incr(name string, tags map[string]string) {
	_ = s.client.Incr(name, toDatadogTags(tags), s.rate)
}

func (s *statsClient) Gauge(name string, value float64, tags map[string]string) {
	_ = s.client.Gauge(name, value, toDatadogTags(tags), s.rate)
}

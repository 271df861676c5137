package main

import (
	"context"
	"flag"
	"log/slog"

	"github.com/terrastream/mysql-cdc/config"
	"github.com/terrastream/mysql-cdc/lib/kafkalib"
	"github.com/terrastream/mysql-cdc/lib/logger"
	"github.com/terrastream/mysql-cdc/lib/mtr"
	"github.com/terrastream/mysql-cdc/sources"
	"github.com/terrastream/mysql-cdc/sources/mysql"
	"github.com/terrastream/mysql-cdc/writers"
)

func setUpMetrics(cfg *config.Metrics) (mtr.Client, error) {
	if cfg == nil {
		return nil, nil
	}

	slog.Info("Creating metrics client")
	return mtr.New(cfg.Namespace, cfg.Tags, 0.5)
}

func main() {
	var configFilePath string
	flag.StringVar(&configFilePath, "config", "", "path to config file")
	flag.Parse()

	cfg, err := config.ReadConfig(configFilePath)
	if err != nil {
		logger.Fatal("Failed to read config file", slog.Any("err", err))
	}

	_logger, cleanUpHandlers := logger.NewLogger(cfg)
	slog.SetDefault(_logger)
	defer cleanUpHandlers()

	ctx := context.Background()

	statsD, err := setUpMetrics(cfg.Metrics)
	if err != nil {
		logger.Fatal("Failed to set up metrics", slog.Any("err", err))
	}

	slog.Info("Kafka config",
		slog.Bool("aws", cfg.Kafka.AwsEnabled),
		slog.String("kafkaBootstrapServer", cfg.Kafka.BootstrapServers),
		slog.Any("publishSize", cfg.Kafka.GetPublishSize()),
		slog.Uint64("maxRequestSize", cfg.Kafka.MaxRequestSize),
	)
	batchWriter, err := kafkalib.NewBatchWriter(ctx, *cfg.Kafka, statsD)
	if err != nil {
		logger.Fatal("Failed to set up kafka", slog.Any("err", err))
	}
	writer := writers.New(batchWriter, true)

	var source sources.Source
	source, err = mysql.Load(ctx, *cfg.MySQL, statsD)
	if err != nil {
		logger.Fatal("Failed to load the MySQL connector", slog.Any("err", err))
	}
	defer source.Close()

	if err = source.Run(ctx, writer); err != nil {
		logger.Fatal("Failed to run the MySQL connector", slog.Any("err", err))
	}
}

// Command beaver tails log files and ships them to a configured
// transport (file, SQS, or Kinesis), the Go port of python-beaver's CLI
// entry point (beaver/run_queue.py / dispatcher/tail.py), wired through
// cobra/pflag the way the rest of the example pack's agent commands are.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	beaverconfig "github.com/bankwing/python-beaver/internal/config"
	"github.com/bankwing/python-beaver/internal/consumer"
	"github.com/bankwing/python-beaver/internal/queue"
	"github.com/bankwing/python-beaver/internal/sincedb"
	"github.com/bankwing/python-beaver/internal/supervisor"
	"github.com/bankwing/python-beaver/internal/tailmanager"
	"github.com/bankwing/python-beaver/internal/transport"
)

var (
	configFile string
	files      []string
	path       string
	transportName string
	fields     string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beaver",
		Short: "Tail log files and ship them to logstash-compatible destinations",
		RunE:  runBeaver,
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the beaver INI config file")
	cmd.Flags().StringSliceVarP(&files, "files", "f", nil, "glob patterns or file paths to tail")
	cmd.Flags().StringVarP(&path, "path", "p", "", "directory to scan for *.log files (list mode)")
	cmd.Flags().StringVarP(&transportName, "transport", "t", "", "override the configured transport")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated key=value pairs attached to every line read from --files")
	return cmd
}

func runBeaver(cmd *cobra.Command, args []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("beaver: build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transportName != "" {
		cfg.Set("transport", transportName)
	}

	sdb, err := sincedb.Open(cfg.GetString("sincedb_path"), cfg.SincedbWriteInterval())
	if err != nil {
		return fmt.Errorf("beaver: open sincedb: %w", err)
	}

	q := queue.New(cfg.GetInt("max_queue_size"))

	registry, err := buildTransports(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	activeTransport, err := registry.Get(cfg.GetString("transport"))
	if err != nil {
		return err
	}

	source := &beaverconfig.FileSource{
		BufferedLinesMaxLines: cfg.GetInt("buffered_lines_max_lines"),
		BufferedLinesMaxBytes: cfg.GetInt("buffered_lines_max_bytes"),
		BufferedLinesMaxSecs:  cfg.GetFloat64("buffered_lines_max_seconds"),
	}
	if fields != "" {
		source.Fields = make(map[string]string)
		for _, pair := range strings.Split(fields, ",") {
			if k, v, ok := strings.Cut(pair, "="); ok {
				source.Fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}

	newTailManager := func() *tailmanager.Manager {
		// onLine is nil: the Manager itself owns batching (internal/batch)
		// and enqueueing flushed batches onto the dispatch queue.
		m := tailmanager.New(cfg, sdb, q, nil)
		m.ListDir = path
		m.DiscoverInterval = time.Duration(cfg.GetInt("discover_interval")) * time.Second
		for _, pattern := range files {
			m.Globs = append(m.Globs, tailmanager.Glob{Pattern: pattern, Source: source})
		}
		return m
	}

	consumerCount := cfg.GetInt("number_of_consumer_processes")
	cm := consumer.NewManager(consumerCount,
		time.Duration(cfg.GetFloat64("consumer_refresh_interval")*float64(time.Second)),
		func(id int) *consumer.QueueConsumer {
			return consumer.New(id, q, activeTransport, log)
		}, log)

	sup := &supervisor.Supervisor{
		Config:          cfg,
		Sincedb:         sdb,
		Queue:           q,
		NewTailManager:  newTailManager,
		ConsumerManager: cm,
		Log:             log,
		RefreshInterval: time.Duration(cfg.GetInt("refresh_worker_process")) * time.Second,
		ShutdownTimeout: time.Duration(cfg.GetInt("shutdown_timeout")) * time.Second,
	}

	sup.Run(context.Background())
	return nil
}

func loadConfig() (*beaverconfig.Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("beaver: --config is required")
	}
	return beaverconfig.Load(configFile)
}

func buildTransports(cfg *beaverconfig.Config) (*transport.Registry, error) {
	registry := transport.NewRegistry()
	logstashVersion := cfg.GetInt("logstash_version")
	host, _ := os.Hostname()
	source := &beaverconfig.FileSource{}

	switch name := cfg.GetString("transport"); name {
	case "sqs":
		queueURLs := strings.Split(cfg.GetString("sqs_queue_url"), ",")
		sink, err := transport.NewSQS(cfg.GetString("sqs_aws_region"), queueURLs, source, logstashVersion, host, nil, cfg.GetBool("sqs_bulk_lines"))
		if err != nil {
			return nil, err
		}
		registry.Register("sqs", sink)
	case "kinesis":
		sink, err := transport.NewKinesis(
			cfg.GetString("kinesis_aws_region"),
			cfg.GetString("kinesis_stream_name"),
			cfg.GetString("kinesis_partition_key"),
			cfg.GetInt("kinesis_batch_size_max"),
			source, logstashVersion, host, nil)
		if err != nil {
			return nil, err
		}
		registry.Register("kinesis", sink)
	default:
		sink, err := transport.NewFile(cfg.GetString("output_file"), source, logstashVersion, host, nil)
		if err != nil {
			return nil, err
		}
		registry.Register("file", sink)
	}
	return registry, nil
}

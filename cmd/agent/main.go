// Package main is the entry point for the procscope agent. It loads the
// layered configuration, wires the metric sources into the collection
// pipeline, and runs the producer and consumer loops as a foreground
// process until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/c2h5oh/datasize"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/procscope/agent/internal/channel"
	"github.com/procscope/agent/internal/collector"
	"github.com/procscope/agent/internal/config"
	"github.com/procscope/agent/internal/coordinator"
	"github.com/procscope/agent/internal/pipeline"
	"github.com/procscope/agent/internal/source"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	showVersion = flag.Bool("version", false, "Show version and exit")
	intervalCLI = flag.String("interval", "", "Collection interval override, e.g. 500ms or 2s")
	retention   = flag.String("retention", "", "History retention override: 1m, 5m, 1h or 24h")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("procscope-agent %s\n", version)
		os.Exit(0)
	}

	// Resolve the external config file once so reloads watch the same path.
	cfgFile := *configPath
	if cfgFile == "" {
		cfgFile = config.Locate()
	}

	cli := config.CLIOverrides{Interval: *intervalCLI, Retention: *retention}
	cfg, err := config.LoadLayered(cli, embeddedConfig, cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	cfg.Normalize(logger)

	logger.Info("Starting procscope agent",
		zap.String("version", version),
		zap.Duration("interval", cfg.Collection.Interval.Duration),
		zap.String("retention", string(cfg.History.Retention)),
		zap.String("config_file", cfgFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()
	}()

	runAgent(ctx, cfg, cli, cfgFile, logger)
	logger.Info("Agent stopped")
}

// runAgent wires sources, collector, channel, coordinator, and pipeline,
// then blocks on the consumer loop until the context is cancelled.
func runAgent(ctx context.Context, cfg *config.Config, cli config.CLIOverrides, cfgFile string, logger *zap.Logger) {
	identCtx, identCancel := context.WithTimeout(ctx, 5*time.Second)
	ident, err := source.ReadHostIdentity(identCtx)
	identCancel()
	if err != nil {
		logger.Warn("Host identity incomplete", zap.Error(err))
	}
	logger.Info("Host identified",
		zap.String("hostname", ident.Hostname),
		zap.String("platform", ident.Platform),
		zap.String("arch", ident.Arch),
		zap.Int("cores", ident.CPUCount))

	srcs := []source.Source{
		source.NewCPUSource(),
		source.NewMemorySource(),
		source.NewProcessSource(cfg.Sources.ProcessHandles),
	}
	if cfg.Sources.Network {
		srcs = append(srcs, source.NewNetSource())
	}
	if cfg.Sources.DiskIO {
		srcs = append(srcs, source.NewDiskIOSource())
	}
	if cfg.Sources.Kernel {
		srcs = append(srcs, source.NewKernelSource())
	}
	if cfg.Sources.GPU {
		gpu := source.NewGPUSource()
		defer gpu.Close()
		srcs = append(srcs, gpu)
	}

	coll := collector.New(srcs, ident, cfg, logger)
	logger.Info("Sources registered", zap.Strings("sources", coll.Names()))

	tx, rx := channel.New(cfg.Channel.Depth)
	pipe := pipeline.New(rx, cfg, logger)
	coord := coordinator.New(coll, tx, cfg, logger)

	// A reloaded interval reaches the producer through the consumer loop.
	pipe.OnIntervalChange(coord.SetInterval)

	footprint := pipe.Footprint()
	budget := cfg.MemoryBudget.Bytes()
	logger.Info("Fixed buffers allocated",
		zap.String("footprint", datasize.ByteSize(footprint).HumanReadable()),
		zap.String("budget", cfg.MemoryBudget.HumanReadable()))
	if budget > 0 && footprint > budget {
		logger.Warn("Fixed buffers exceed the memory budget; lower the retention or raise the budget",
			zap.String("footprint", datasize.ByteSize(footprint).HumanReadable()),
			zap.String("budget", cfg.MemoryBudget.HumanReadable()))
	}

	// Hot reload: re-run the full layering on file change and queue the
	// result; the consumer applies it between ticks.
	if cfgFile != "" {
		go func() {
			reload := func() {
				next, err := config.LoadLayered(cli, embeddedConfig, cfgFile)
				if err != nil {
					logger.Warn("Config reload failed, keeping current settings", zap.Error(err))
					return
				}
				next.Normalize(logger)
				pipe.QueueConfig(next)
			}
			if err := config.Watch(ctx, cfgFile, logger, reload); err != nil {
				logger.Warn("Config watch unavailable", zap.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()

	logger.Info("Agent running",
		zap.Duration("interval", cfg.Collection.Interval.Duration),
		zap.Stringer("session", coll.Session()))

	pipe.RunConsumer(ctx)
	wg.Wait()

	status := pipe.Status(time.Now())
	logger.Info("Pipeline drained",
		zap.Uint64("cycles", coord.Cycles()),
		zap.Uint64("overruns", coord.Overruns()),
		zap.Uint64("over_budget", coord.BudgetOverruns()),
		zap.Uint64("applied", status.Applied),
		zap.Uint64("dropped", status.Dropped),
		zap.Uint64("last_seq", status.Seq))
}

// initLogger creates a zap logger from the logging configuration. Console
// output is human-readable; an optional log file receives structured JSON.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}

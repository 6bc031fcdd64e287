// Package main provides the CLI entry point for imstor, a benchmark
// tool comparing storage backends for large numbers of small images.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/imstor/imstor/bench"
	"github.com/imstor/imstor/dataset"
	"github.com/imstor/imstor/report"
	"github.com/imstor/imstor/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Error("imstor failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "imstor",
		Short: "Benchmark storage backends for many small images",
		Long: `Imstor measures write/read latency and on-disk footprint for storing
large numbers of small images through flat files, a memory-mapped B+-tree
key-value store, an HDF5 container, and an LSM-tree store, sweeping a
geometric progression of dataset sizes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cobra.OnInitialize(func() {
		initConfig(logger, cfgFile)
	})

	root.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Config file (default is $HOME/.imstor.yaml)")

	root.AddCommand(newRunCmd(logger))

	return root
}

// initConfig reads the config file and IMSTOR_* environment variables
// into viper. Flag values bound in newRunCmd take precedence.
func initConfig(logger *slog.Logger, cfgFile string) {
	viper.SetEnvPrefix("imstor")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".imstor")
	}

	if err := viper.ReadInConfig(); err == nil {
		logger.Info("using config file",
			slog.String("path", viper.ConfigFileUsed()),
		)
	}
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run write/read benchmarks across storage backends",
		Long: `Build a dataset of small images (synthetic, or loaded from CIFAR-10
binary batches) and sweep each backend across increasing record counts,
timing bulk writes and reads and measuring the on-disk footprint.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd.Context(), logger, runConfig{
				backends: viper.GetStringSlice("backends"),
				sizes:    viper.GetIntSlice("sizes"),
				dataDir:  viper.GetString("data-dir"),
				cifarDir: viper.GetString("cifar"),
				count:    viper.GetInt("count"),
				height:   viper.GetInt("height"),
				width:    viper.GetInt("width"),
				channels: viper.GetInt("channels"),
				classes:  viper.GetInt("classes"),
				seed:     viper.GetInt64("seed"),
				repeats:  viper.GetInt("repeats"),
				mapSize:  viper.GetInt64("map-size"),
				verify:   viper.GetBool("verify"),
				json:     viper.GetBool("json"),
			})
		},
	}

	flags := cmd.Flags()
	flags.StringSlice("backends", kindNames(),
		"Backends to benchmark (files,mdbx,hdf5,badger)")
	flags.IntSlice("sizes", nil,
		"Sweep sizes (default: 1,10,100,... up to the dataset size)")
	flags.String("data-dir", "tmp",
		"Base directory for backend storage")
	flags.String("cifar", "",
		"Directory of CIFAR-10 binary batches (default: synthetic data)")
	flags.Int("count", 1000,
		"Number of synthetic images to generate")
	flags.Int("height", 32, "Synthetic image height")
	flags.Int("width", 32, "Synthetic image width")
	flags.Int("channels", 3, "Synthetic image channels")
	flags.Int("classes", 10, "Number of synthetic label classes")
	flags.Int64("seed", 0, "Random seed (0 = use current time)")
	flags.Int("repeats", 1, "Repetitions per trial")
	flags.Int64("map-size", 0,
		"MDBX map capacity in bytes (0 = default geometry)")
	flags.Bool("verify", false,
		"Check round-trip correctness after each trial")
	flags.Bool("json", false,
		"Output results as JSON instead of markdown tables")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

type runConfig struct {
	backends []string
	sizes    []int
	dataDir  string
	cifarDir string
	count    int
	height   int
	width    int
	channels int
	classes  int
	seed     int64
	repeats  int
	mapSize  int64
	verify   bool
	json     bool
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
) error {
	if len(cfg.backends) == 0 {
		return fmt.Errorf("at least one backend must be specified via --backends")
	}

	kinds := make([]store.Kind, 0, len(cfg.backends))

	for _, name := range cfg.backends {
		kind := store.Kind(name)
		if !knownKind(kind) {
			return fmt.Errorf(
				"unknown backend %q (supported: %s)",
				name, strings.Join(kindNames(), ","),
			)
		}

		kinds = append(kinds, kind)
	}

	records, err := buildDataset(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("build dataset: %w", err)
	}

	sizes := cfg.sizes
	if len(sizes) == 0 {
		sizes = bench.GeometricSizes(len(records))
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.Any("backends", cfg.backends),
		slog.Any("sizes", sizes),
		slog.Int("dataset", len(records)),
		slog.Int("repeats", cfg.repeats),
	)

	results := make([]bench.SweepResult, 0, len(kinds))

	for _, kind := range kinds {
		opts := store.Options{MapSize: cfg.mapSize}

		runner := bench.NewRunner(
			string(kind),
			func(dir string) (store.Backend, error) {
				return store.Open(kind, dir, opts)
			},
			cfg.dataDir,
			logger,
		)
		runner.Repeats = cfg.repeats
		runner.Verify = cfg.verify

		result, err := runner.RunSweep(records, sizes)
		if err != nil {
			logger.Warn("sweep failed, skipping backend",
				slog.String("backend", string(kind)),
				slog.String("error", err.Error()),
			)

			continue
		}

		results = append(results, result)
	}

	if len(results) == 0 {
		return fmt.Errorf("all backend sweeps failed")
	}

	if cfg.json {
		if err := report.GenerateJSON(os.Stdout, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(os.Stdout, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func buildDataset(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
) ([]store.ImageRecord, error) {
	if cfg.cifarDir != "" {
		records, err := dataset.LoadCIFAR10(cfg.cifarDir)
		if err != nil {
			return nil, err
		}

		logger.InfoContext(ctx, "dataset loaded",
			slog.String("source", cfg.cifarDir),
			slog.Int("records", len(records)),
		)

		return records, nil
	}

	seed := cfg.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	gen := dataset.NewGenerator(dataset.Config{
		Count:    cfg.count,
		Height:   cfg.height,
		Width:    cfg.width,
		Channels: cfg.channels,
		Classes:  cfg.classes,
		Seed:     seed,
	})

	records, err := gen.Generate()
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "dataset generated",
		slog.Int("records", len(records)),
		slog.Int64("seed", seed),
	)

	return records, nil
}

func kindNames() []string {
	kinds := store.Kinds()
	names := make([]string, len(kinds))

	for i, kind := range kinds {
		names[i] = string(kind)
	}

	return names
}

func knownKind(kind store.Kind) bool {
	for _, k := range store.Kinds() {
		if k == kind {
			return true
		}
	}

	return false
}

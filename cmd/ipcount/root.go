package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kwertop/hllcount"
	"github.com/kwertop/hllcount/count"
	"github.com/kwertop/hllcount/ingest"
	"github.com/kwertop/hllcount/internal/log"
)

var errNoAddresses = errors.New("no addresses loaded")

type options struct {
	Field     string
	Precision uint8
	Hash      hllcount.HashKind
	Workers   int
	RedisURL  string
	Tiered    bool
	LogLevel  string
}

func loadOptions(v *viper.Viper) (options, error) {
	precision := v.GetUint("precision")
	if precision > uint(count.MaxPrecision) {
		return options{}, fmt.Errorf("%w: %d", count.ErrInvalidPrecision, precision)
	}
	hash, err := hllcount.ParseHashKind(v.GetString("hash"))
	if err != nil {
		return options{}, err
	}
	return options{
		Field:     v.GetString("field"),
		Precision: uint8(precision),
		Hash:      hash,
		Workers:   v.GetInt("workers"),
		RedisURL:  v.GetString("redis-url"),
		Tiered:    v.GetBool("tiered"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}

// BuildRootCmd returns the ipcount command. Every flag can also be set with
// an IPCOUNT_ environment variable (IPCOUNT_REDIS_URL for --redis-url) or a
// key in the file given by --config.
func BuildRootCmd() *cobra.Command {
	var configFile string
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "ipcount [flags] <logfile>",
		Short:         "Count distinct client addresses in a JSON access log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return nil
			}
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", configFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadOptions(v)
			if err != nil {
				return err
			}
			logger, err := log.New(cmd.ErrOrStderr(), opts.LogLevel)
			if err != nil {
				return err
			}
			cmd.SetContext(logger.WithContext(cmd.Context()))
			return run(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file")
	flags.String("field", ingest.DefaultField, "JSON field (gjson path) holding the client address")
	flags.Uint8("precision", count.DefaultPrecision, "sketch precision, 2^precision registers")
	flags.String("hash", hllcount.Murmur3.String(), "hash function: murmur3 or xxh3")
	flags.Int("workers", 1, "number of goroutines building the sketch")
	flags.String("redis-url", "", "keep the sketch registers in Redis at this redis:// URL")
	flags.Bool("tiered", false, "apply the small and large range corrections to the estimate")
	flags.String("log-level", "info", "log level")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("IPCOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func run(cmd *cobra.Command, path string, opts options) error {
	ctx := cmd.Context()
	logger := zerolog.Ctx(ctx)
	config := count.Config{Precision: opts.Precision, Hash: opts.Hash}
	if err := config.Validate(); err != nil {
		return err
	}

	values, stats, err := ingest.NewReader(opts.Field).LoadFile(ctx, path)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("file", path).
		Int("lines", stats.Lines).
		Int("malformed", stats.Malformed).
		Int("missing", stats.Missing).
		Int("values", stats.Values).
		Msg("log loaded")
	if len(values) == 0 {
		return fmt.Errorf("%s: %w", path, errNoAddresses)
	}

	start := time.Now()
	exact := count.NewExactCounter()
	for _, value := range values {
		exact.AddString(value)
	}
	exactCount := exact.Count()
	exactTime := time.Since(start)

	start = time.Now()
	estimate, err := buildEstimate(ctx, values, config, opts)
	if err != nil {
		return err
	}
	estimateTime := time.Since(start)

	logger.Debug().
		Uint8("precision", config.Precision).
		Stringer("hash", config.Hash).
		Float64("standard_error", config.StandardError()).
		Msg("estimate computed")

	writeReport(cmd.OutOrStdout(), report{
		Exact:        exactCount,
		Estimate:     estimate,
		ExactTime:    exactTime,
		EstimateTime: estimateTime,
	})
	return nil
}

func buildEstimate(ctx context.Context, values []string, config count.Config, opts options) (uint64, error) {
	if opts.RedisURL != "" {
		return estimateRedis(ctx, values, config, opts)
	}
	sketch, err := ingest.BuildParallel(ctx, values, opts.Workers, config)
	if err != nil {
		return 0, err
	}
	if opts.Tiered {
		return sketch.EstimateTiered(), nil
	}
	return sketch.Estimate(), nil
}

func estimateRedis(ctx context.Context, values []string, config count.Config, opts options) (uint64, error) {
	connOptions, err := hllcount.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return 0, err
	}
	hllcount.MakeRedisClient(*connOptions)
	defer hllcount.CloseRedisClient()

	sketch, err := count.NewHyperLogLogRedis(ctx, config)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := sketch.Delete(context.WithoutCancel(ctx)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("could not remove sketch from redis")
		}
	}()
	if err := sketch.AddStrings(ctx, values); err != nil {
		return 0, err
	}
	if opts.Tiered {
		return sketch.EstimateTiered(ctx)
	}
	return sketch.Estimate(ctx)
}

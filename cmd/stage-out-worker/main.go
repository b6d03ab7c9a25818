// stage-out-worker выгружает одну завершённую выходную директорию в
// S3-совместимое хранилище. Вызывается stage-out-starter'ом как
// <worker> -r <dir>; код возврата 0 означает успех.
//
// Параметры хранилища берутся из RPD_S3_ENDPOINT, RPD_S3_ACCESS_KEY,
// RPD_S3_SECRET_KEY, RPD_S3_REGION, RPD_S3_USE_SSL, RPD_S3_BUCKET и
// RPD_S3_PREFIX.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/rpd-pipelines/internal/cli"
	"github.com/shaiso/rpd-pipelines/internal/staging"
	"github.com/shaiso/rpd-pipelines/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

type options struct {
	cli.Flags

	runDir  string
	basedir string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "stage-out-worker -r DIR",
		Short:         "Upload a completed downstream run directory to object storage",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, &opts)
		},
	}

	opts.Bind(rootCmd)
	f := rootCmd.Flags()
	f.StringVarP(&opts.runDir, "rundir", "r", "", "Run directory to stage out")
	f.StringVar(&opts.basedir, "basedir", "", "Downstream output base directory (default from site config)")
	_ = rootCmd.MarkFlagRequired("rundir")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger := opts.Logger().With("job", "stage-out-worker")

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if opts.basedir == "" {
		opts.basedir = cfg.OutdirBase()
	}

	dir, err := filepath.Abs(opts.runDir)
	if err != nil {
		return err
	}
	logger = telemetry.WithOutDir(logger, dir)

	s3cfg, err := staging.ConfigFromEnv()
	if err != nil {
		return err
	}
	client, err := staging.NewClient(s3cfg)
	if err != nil {
		return err
	}
	if err := staging.EnsureBucket(ctx, client, s3cfg.Bucket, s3cfg.Region); err != nil {
		return err
	}

	uploader := staging.NewUploader(client, s3cfg, opts.basedir, logger)
	res, err := uploader.StageOut(ctx, dir)
	if err != nil {
		logger.Error("stage-out failed", "error", err)
		return err
	}

	opts.Output().Success(fmt.Sprintf("staged %d objects (%d bytes) from %s", res.Objects, res.Bytes, dir))
	return nil
}

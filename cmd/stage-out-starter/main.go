// stage-out-starter ищет завершённые downstream run'ы (WORKFLOW_COMPLETE)
// и вызывает для каждого worker выгрузки.
//
// Использование:
//
//	stage-out-starter [-n] [--basedir DIR] [--worker PATH] [flags]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/rpd-pipelines/internal/cli"
	"github.com/shaiso/rpd-pipelines/internal/config"
	"github.com/shaiso/rpd-pipelines/internal/mail"
	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/runner"
	"github.com/shaiso/rpd-pipelines/internal/stageout"
	"github.com/shaiso/rpd-pipelines/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

type options struct {
	cli.Flags

	dryRun  bool
	basedir string
	worker  string
	channel string

	reportTo string
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "stage-out-starter",
		Short:         "Stage out completed downstream runs",
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
	f.BoolVarP(&opts.dryRun, "dry-run", "n", false, "Don't run anything, only log what would be done")
	f.StringVar(&opts.basedir, "basedir", "", "Downstream output base directory (default from site config)")
	f.StringVar(&opts.worker, "worker", "", "Stage-out worker executable (default from site config)")
	f.StringVar(&opts.channel, "channel", "", "Installation channel: production or devel (default from site config)")
	f.StringVar(&opts.reportTo, "report-to", "", "Mail a report of failed stage-outs to this user")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger := opts.Logger().With("job", stageout.JobName)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	if opts.channel == "" {
		opts.channel = cfg.Channel
	}
	channel, err := pipelines.ParseChannel(opts.channel)
	if err != nil {
		return err
	}
	if opts.basedir == "" {
		opts.basedir = cfg.DownstreamOutdirBase.For(string(channel))
	}
	if opts.worker == "" {
		opts.worker = cfg.StageOut.Worker
	}

	events, err := cli.ConnectEvents(ctx, stageout.JobName, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	metrics := telemetry.NewMetrics()

	scCfg := stageout.Config{
		Runner:  runner.NewExecRunner(),
		Worker:  opts.worker,
		Basedir: opts.basedir,
		DryRun:  opts.dryRun,
		Metrics: metrics,
		Logger:  logger,
	}
	if events != nil {
		scCfg.Publisher = events.Publisher
	}
	scanner := stageout.New(scCfg)

	out := opts.Output()
	return opts.RunJob(ctx, cli.JobOptions{
		Name:    stageout.JobName,
		Metrics: metrics,
		Logger:  logger,
		Job: func(ctx context.Context) error {
			report, err := scanner.Scan(ctx)
			if err != nil {
				logger.Log(ctx, telemetry.LevelCritical, "stage-out scan failed", "error", err)
				return err
			}
			out.Report(report)

			if opts.reportTo != "" && len(report.Failed) > 0 {
				return sendFailureReport(ctx, cfg.Mail, opts.reportTo, report)
			}
			return nil
		},
	})
}

// sendFailureReport отправляет список директорий, выгрузка которых не удалась.
func sendFailureReport(ctx context.Context, mc config.MailConfig, user string, report *stageout.Report) error {
	text := fmt.Sprintf("Staging out failed for %d of %d completed runs:\n\n%s\n",
		len(report.Failed), report.Found, strings.Join(report.Failed, "\n"))

	msg := mail.NewComposer(mc).ComposeReport(user, "Stage-out failures", text)
	if err := mail.NewSMTPSender(mc.Relay).Send(ctx, msg); err != nil {
		return fmt.Errorf("send stage-out report: %w", err)
	}
	return nil
}

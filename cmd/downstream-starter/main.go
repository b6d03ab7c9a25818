// downstream-starter выбирает завершённые upstream run'ы из pipeline_runs
// и запускает для них downstream pipeline.
//
// Использование:
//
//	downstream-starter -s NSCC [-w 14] [-n] [-t] [--launcher wrapper|native] [flags]
//
// Без --schedule выполняется один цикл. С --schedule цикл повторяется по
// cron-выражению; между процессами цикл выполняет только владелец
// advisory lock в БД.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/rpd-pipelines/internal/cli"
	"github.com/shaiso/rpd-pipelines/internal/config"
	"github.com/shaiso/rpd-pipelines/internal/dispatcher"
	"github.com/shaiso/rpd-pipelines/internal/pipelines"
	"github.com/shaiso/rpd-pipelines/internal/repo"
	"github.com/shaiso/rpd-pipelines/internal/runconfig"
	"github.com/shaiso/rpd-pipelines/internal/runner"
	"github.com/shaiso/rpd-pipelines/internal/starter"
	"github.com/shaiso/rpd-pipelines/internal/submit"
	"github.com/shaiso/rpd-pipelines/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

// Реализации запуска pipeline.
const (
	launcherWrapper = "wrapper"
	launcherNative  = "native"
)

type options struct {
	cli.Flags

	dryRun   bool
	site     string
	window   int
	testing  bool
	channel  string
	launcher string
	noRun    bool
	parallel int
	migrate  bool
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           "downstream-starter",
		Short:         "Start downstream pipelines for completed upstream runs",
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
	f.StringVarP(&opts.site, "site", "s", "NSCC", "Site to start analyses for")
	f.IntVarP(&opts.window, "win", "w", starter.DefaultWindowDays, "Only consider records created in the last N days")
	f.BoolVarP(&opts.testing, "testing", "t", false, "Use testing database and version-less pipeline paths")
	f.StringVar(&opts.channel, "channel", "", "Pipeline installation channel: production or devel (default from site config)")
	f.StringVar(&opts.launcher, "launcher", launcherWrapper, "Pipeline launcher: wrapper or native")
	f.BoolVar(&opts.noRun, "no-run", false, "Prepare run directories but don't submit")
	f.IntVar(&opts.parallel, "parallel", 1, "Number of records dispatched concurrently")
	f.BoolVar(&opts.migrate, "migrate", false, "Apply the database schema before the first cycle")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger := opts.Logger().With("job", starter.JobName)

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

	current, err := user.Current()
	if err != nil {
		return fmt.Errorf("current user: %w", err)
	}

	pool, err := repo.NewPool(ctx, repo.DSN(opts.testing))
	if err != nil {
		logger.Log(ctx, telemetry.LevelCritical, "database connection failed", "error", err)
		return err
	}
	defer pool.Close()

	if opts.migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	events, err := cli.ConnectEvents(ctx, starter.JobName, logger)
	if err != nil {
		return err
	}
	defer events.Close()

	resolver, err := pipelines.NewResolver(cfg.PipelineBasedirs, channel)
	if err != nil {
		return err
	}

	launcher, err := newLauncher(opts, cfg, channel, current.Username, logger)
	if err != nil {
		return err
	}

	metrics := telemetry.NewMetrics()

	stCfg := starter.Config{
		Store:        repo.NewPipelineRunRepo(pool),
		Materializer: runconfig.NewMaterializer(cfg.TmpDir),
		Dispatcher: dispatcher.New(dispatcher.Config{
			Resolver: resolver,
			Launcher: launcher,
			DryRun:   opts.dryRun,
			NoRun:    opts.noRun,
			Testing:  opts.testing,
			Logger:   logger,
		}),
		Metrics:    metrics,
		Site:       opts.site,
		WindowDays: opts.window,
		OutdirBase: cfg.DownstreamOutdirBase.For(string(channel)),
		Parallel:   opts.parallel,
		User:       current.Username,
		Logger:     logger,
	}
	if !opts.testing {
		stCfg.Authorized = cfg.IsProductionUser
	}
	if events != nil {
		stCfg.Publisher = events.Publisher
	}
	st := starter.New(stCfg)

	out := opts.Output()
	return opts.RunJob(ctx, cli.JobOptions{
		Name:    starter.JobName,
		Locker:  repo.NewAdvisoryLock(pool, repo.LockKey(starter.JobName+"/"+opts.site)),
		Metrics: metrics,
		Logger:  logger,
		Job: func(ctx context.Context) error {
			summary, err := st.Cycle(ctx)
			if summary != nil {
				out.Summary(summary)
			}
			if errors.Is(err, starter.ErrUnauthorized) {
				logger.Log(ctx, telemetry.LevelCritical, "not a production user, refusing to start", "user", current.Username)
			}
			return err
		},
	})
}

// newLauncher создаёт реализацию запуска pipeline согласно --launcher.
func newLauncher(opts *options, cfg *config.SiteConfig, channel pipelines.Channel, username string, logger *slog.Logger) (dispatcher.Launcher, error) {
	r := runner.NewExecRunner()

	switch opts.launcher {
	case launcherWrapper:
		return dispatcher.NewCommandLauncher(r), nil

	case launcherNative:
		initCmd, ok := cfg.InitCommand(opts.site)
		if !ok {
			return nil, fmt.Errorf("%w: no init command for site %s", config.ErrInvalidConfig, opts.site)
		}
		engine := submit.NewEngine(submit.Config{
			Runner:        r,
			Vars:          submit.NewVarsLoader(r, initCmd, channel == pipelines.ChannelDevel),
			TemplateDir:   cfg.RunTemplateDir,
			SubmitCommand: cfg.Scheduler.SubmitCommand,
			SlaveQueue:    cfg.Scheduler.SlaveQueue,
			Logger:        logger,
		})
		return submit.NewNativeLauncher(submit.LauncherConfig{
			Engine:      engine,
			MasterQueue: cfg.Scheduler.MasterQueue,
			MailTo:      cfg.Mail.AddressFor(username),
			Logger:      logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown launcher %q (want %s or %s)", opts.launcher, launcherWrapper, launcherNative)
	}
}

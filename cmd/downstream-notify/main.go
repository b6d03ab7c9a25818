// downstream-notify читает события run'ов из очереди runs.events и
// отправляет пользователям письма о статусе анализа.
//
// Ошибка отправки письма возвращает сообщение в DLQ (dlq.runs).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/rpd-pipelines/internal/cli"
	"github.com/shaiso/rpd-pipelines/internal/mail"
	"github.com/shaiso/rpd-pipelines/internal/mq"
	"github.com/shaiso/rpd-pipelines/internal/notify"
)

// version задаётся через ldflags при сборке.
var version = "dev"

const jobName = "downstream-notify"

type options struct {
	cli.Flags

	prefetch int
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:           jobName,
		Short:         "Send status mails for downstream run events",
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
	rootCmd.Flags().IntVar(&opts.prefetch, "prefetch", 1, "Number of unacknowledged messages")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	logger := opts.Logger().With("job", jobName)

	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}

	events, err := cli.ConnectEvents(ctx, jobName, logger)
	if err != nil {
		return err
	}
	if events == nil {
		return errors.New(mq.EnvURL + " is required")
	}
	defer events.Close()

	if opts.MetricsAddr != "" {
		stop := cli.ServeMetrics(opts.MetricsAddr, nil, logger)
		defer stop()
	}

	sender := mail.NewRetryingSender(mail.NewSMTPSender(cfg.Mail.Relay), mail.RetryPolicy{
		MaxAttempts: cfg.Mail.Attempts,
		Backoff:     mail.BackoffExponential,
	}, logger)
	n := notify.New(mail.NewComposer(cfg.Mail), sender, logger)

	consumer := mq.NewConsumer(events.Conn, logger, mq.ConsumerConfig{
		Queue:    mq.QueueRunEvents,
		Handler:  n.Handle,
		Prefetch: opts.prefetch,
	})

	logger.Info("consuming run events", "queue", mq.QueueRunEvents)
	logger.Debug("rabbitmq topology", "topology", mq.TopologyInfo())
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

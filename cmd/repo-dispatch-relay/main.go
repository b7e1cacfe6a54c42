package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kehao95/repo-dispatch-relay/internal/assertion"
	"github.com/kehao95/repo-dispatch-relay/internal/client"
	"github.com/kehao95/repo-dispatch-relay/internal/config"
	"github.com/kehao95/repo-dispatch-relay/internal/logging"
	"github.com/kehao95/repo-dispatch-relay/internal/server"
	"github.com/spf13/cobra"
)

func runWithSignals(run func(context.Context) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()

	select {
	case sig := <-sigCh:
		cancel()
		_ = <-errCh
		if sig == os.Interrupt {
			return client.ExitError{Code: 130}
		}
		return client.ExitError{Code: 143}
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func newServeCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay repository creation webhooks to repository_dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// The server shuts down gracefully on cancellation, so a signal
			// is a clean exit here.
			err = runWithSignals(func(ctx context.Context) error {
				return server.Run(ctx, cfg, logger)
			})
			var exitErr client.ExitError
			if errors.As(err, &exitErr) {
				logger.Infow("shutting down", "exit_code", exitErr.Code)
				return nil
			}
			return err
		},
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

func newWatchCmd() *cobra.Command {
	var (
		serverURL string
		results   []string
		successOn []string
		failureOn []string
		timeout   time.Duration
		capture   bool
		logLevel  string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream relay outcomes from a running server as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			success, err := assertion.ParseAll(successOn, 0)
			if err != nil {
				return err
			}
			failure, err := assertion.ParseAll(failureOn, 1)
			if err != nil {
				return err
			}
			logger, err := logging.New(logLevel, "console")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return runWithSignals(func(ctx context.Context) error {
				err := client.Run(ctx, client.Config{
					ServerURL:         serverURL,
					Results:           results,
					SuccessAssertions: success,
					FailureAssertions: failure,
					Timeout:           timeout,
					Capture:           capture,
				}, cmd.OutOrStdout(), logger)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/ws", "WebSocket feed URL")
	cmd.Flags().StringArrayVar(&results, "result", nil, "Only receive outcomes with this result (dispatched, ignored, failed, rejected)")
	cmd.Flags().StringArrayVar(&successOn, "success-on", nil, "Exit 0 when a rule matches, e.g. result=dispatched")
	cmd.Flags().StringArrayVar(&failureOn, "failure-on", nil, "Exit 1 when a rule matches, e.g. result=failed")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Exit 124 after this long; 0 waits forever")
	cmd.Flags().BoolVar(&capture, "capture", false, "Hold output until a rule matches or the timeout elapses")
	cmd.Flags().StringVar(&logLevel, "log-level", config.DefaultLogLevel, "Log level")
	return cmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "repo-dispatch-relay",
		Short:         "Trigger GitHub Actions when a repository is created in an organization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/safety-report-tracker/internal/bootstrap"
	"github.com/kirillkom/safety-report-tracker/internal/config"
	"github.com/kirillkom/safety-report-tracker/internal/observability/logging"
)

const usage = `usage: tracker <command> [flags]

commands:
  submit   upload an image and optionally track it to completion
  track    track an existing request id to completion
  history  list the backend's reports, newest first
  delete   delete a report
  pdf      download a report PDF into object storage
  export   write the history to an xlsx workbook
  config   print the effective configuration
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "tracker: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	command, rest := args[0], args[1:]
	if command == "config" {
		return printConfig(cfg, stdout)
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return errUsage
	}

	logger := logging.NewJSONLoggerTo(stderr, "tracker", cfg.LogLevel)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "tracker", Logger: logger})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
	}()

	return handler(ctx, app, rest, stdout, stderr)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/idilsaglam/muchtodo/internal/api"
	"github.com/idilsaglam/muchtodo/internal/cli"
	"github.com/idilsaglam/muchtodo/internal/config"
	"github.com/idilsaglam/muchtodo/internal/credstore"
	"github.com/idilsaglam/muchtodo/internal/logging"
	"github.com/idilsaglam/muchtodo/internal/query"
	"github.com/idilsaglam/muchtodo/internal/resource"
	"github.com/idilsaglam/muchtodo/internal/session"
	"github.com/idilsaglam/muchtodo/internal/telemetry"
	"github.com/idilsaglam/muchtodo/internal/ui"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = func() { cli.PrintHelp(flag.CommandLine.Output()) }

	// Root flags (apply to every subcommand)
	cfg, args, err := config.Load(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "muchtodo:", err)
		return cli.ExitUsage
	}
	if len(args) == 0 {
		cli.PrintHelp(os.Stdout)
		return cli.ExitUsage
	}

	// The full-screen UI owns the terminal, so it logs to a file.
	var logOut io.Writer = os.Stderr
	if cli.Interactive(args) {
		f, err := logging.OpenFile(cfg.LogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "muchtodo:", err)
			return cli.ExitFailure
		}
		defer f.Close()
		logOut = f
	}
	logger := logging.NewFromConfig(logOut, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := telemetry.Setup("muchtodo", logger)
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()

	jar, err := credstore.Open(cfg.CookieFile())
	if err != nil {
		fmt.Fprintln(os.Stderr, "muchtodo:", err)
		return cli.ExitFailure
	}
	client, err := api.New(api.Options{BaseURL: cfg.APIBaseURL, Timeout: cfg.Timeout, Jar: jar, Logger: logger})
	if err != nil {
		fmt.Fprintln(os.Stderr, "muchtodo:", err)
		return cli.ExitUsage
	}
	cache := query.New(query.Options{Retries: cfg.QueryRetries, Retryable: resource.Retryable, Logger: logger})
	store := session.NewStore(client, cache, session.Options{Logger: logger, Forget: jar.Clear})

	color := ui.ColorAuto
	if cfg.NoColor {
		color = ui.ColorNever
	}
	code := cli.Run(ctx, args, cli.Env{
		Config:  cfg,
		API:     client,
		Session: store,
		Boot:    session.NewBootstrapper(store),
		Jar:     jar,
		Printer: ui.NewPrinter(os.Stdout, os.Stderr, cfg.Theme, color),
		In:      os.Stdin,
		Logger:  logger,
	})
	if code != cli.ExitOK {
		fmt.Fprintln(os.Stderr)
	}
	return code
}

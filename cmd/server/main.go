package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/textserver/internal/app"
	"github.com/andy6609/textserver/internal/app/room"
	"github.com/andy6609/textserver/internal/channel"
	"github.com/andy6609/textserver/internal/config"
	"github.com/andy6609/textserver/internal/session"
	"github.com/andy6609/textserver/internal/userdb"
)

type options struct {
	config   string
	port     int
	database string
	start    string
	log      string
	metrics  string
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(opts.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		usage(os.Stderr)
		os.Exit(2)
	}

	logger, closeLog, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "log:", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	var store userdb.Store
	if cfg.Database != "" {
		db, err := userdb.OpenSQLStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		store = db
	} else {
		logger.Warn("no user database configured, accepting any free name")
	}

	apps := app.NewRegistry(room.New, logger)
	if cfg.Start != "" {
		if err := app.RunScriptFile(apps, cfg.Start); err != nil {
			return fmt.Errorf("start script: %w", err)
		}
	}

	reg := session.NewRegistry(logger)
	var srv *session.Server
	shutdown := session.NewShutdown(func(line string) { reg.Broadcast(line) }, func() { srv.Stop() }, logger)

	srv = session.NewServer(session.Config{
		Addr:          cfg.Addr(),
		AcceptTimeout: cfg.AcceptTimeout,
		Login: session.LoginConfig{
			Timeout:         cfg.LoginTimeout,
			MaxAttempts:     cfg.Login.MaxAttempts,
			Banner:          cfg.Login.Banner,
			ProtocolVersion: cfg.Login.ProtocolVersion,
			Store:           store,
		},
		Conn: session.ConnOptions{
			ReadTimeout:  cfg.ReadTimeout,
			QueueWait:    cfg.QueueWait,
			WriteTimeout: cfg.WriteTimeout,
		},
		Handler: channel.Handler(channel.Env{
			Registry: reg,
			Apps:     apps,
			Shutdown: shutdown,
			Logger:   logger,
		}),
	}, reg, logger)
	srv.OnStop(func() { _ = shutdown.Cancel() })
	srv.OnStop(apps.CloseAll)

	if err := srv.Start(); err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received", "signal", sig.String())
		srv.Stop()
	}()

	srv.Wait()
	logger.Info("server stopped")
	return nil
}

// parseArgs accepts both -name=value and -name:value.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	fs.StringVar(&opts.config, "config", "", "YAML configuration file")
	fs.IntVar(&opts.port, "port", 0, "TCP port to listen on")
	fs.StringVar(&opts.database, "database", "", "user database path")
	fs.StringVar(&opts.start, "start", "", "startup script")
	fs.StringVar(&opts.log, "log", "", "log file")
	fs.StringVar(&opts.metrics, "metrics", "", "metrics listen address")

	if err := fs.Parse(normalizeArgs(args)); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected argument %q\n", fs.Arg(0))
		usage(stderr)
		return nil, errors.New("unexpected argument")
	}
	return opts, nil
}

func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "-") && !strings.Contains(a, "=") {
			if name, value, ok := strings.Cut(a, ":"); ok {
				a = name + "=" + value
			}
		}
		out[i] = a
	}
	return out
}

func (o *options) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.database != "" {
		cfg.Database = o.database
	}
	if o.start != "" {
		cfg.Start = o.start
	}
	if o.log != "" {
		cfg.Log.File = o.log
	}
	if o.metrics != "" {
		cfg.Metrics.Listen = o.metrics
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: server -port:<port> [-database:<path>] [-start:<script>] [-log:<file>] [-config:<file>] [-metrics:<addr>]")
}

func newLogger(lc config.LogConfig) (*slog.Logger, func(), error) {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return nil, nil, err
	}

	var w io.Writer = os.Stdout
	closeFn := func() {}
	if lc.File != "" {
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}

	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(w, hopts)
	if strings.EqualFold(lc.Format, "text") {
		h = slog.NewTextHandler(w, hopts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

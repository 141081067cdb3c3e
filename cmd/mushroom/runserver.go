package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/mushroom/internal/addrport"
	"github.com/vango-dev/mushroom/internal/config"
	"github.com/vango-dev/mushroom/internal/dev"
	"github.com/vango-dev/mushroom/internal/errors"
)

type runserverOptions struct {
	useIPv6         bool
	noStatic        bool
	insecure        bool
	mushroomPort    int
	shutdownMessage string
}

func runserverCmd() *cobra.Command {
	var opts runserverOptions

	cmd := &cobra.Command{
		Use:   "runserver [addrport]",
		Short: "Start the development server and the mushroom server",
		Long: `Start the development server and the mushroom server.

The mushroom server listens on the same host, on the mushroom port
(default: the development port + 100). Installed plugins are scanned in
order; plugins that fail to load are skipped.

Examples:
  mushroom runserver
  mushroom runserver 8080
  mushroom runserver 0.0.0.0:8000
  mushroom runserver -6 [::]:8000 --mushroom-port=9000`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := ""
			if len(args) == 1 {
				arg = args[0]
			}
			return runServer(cmd.Context(), arg, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.useIPv6, "ipv6", "6", false, "Use an IPv6 address")
	cmd.Flags().BoolVar(&opts.noStatic, "nostatic", false, "Do not serve static files")
	cmd.Flags().BoolVar(&opts.insecure, "insecure", false, "Serve static files even when debug is off")
	cmd.Flags().IntVar(&opts.mushroomPort, "mushroom-port", 0, "Mushroom server port (default: port + 100)")
	cmd.Flags().StringVar(&opts.shutdownMessage, "shutdown-message", "", "Message printed when the server is interrupted")

	return cmd
}

func runServer(parent context.Context, arg string, opts runserverOptions) error {
	cfg, err := config.LoadOrDefault()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	addr, err := resolveAddr(cfg, arg, opts.useIPv6)
	if err != nil {
		return err
	}
	if opts.mushroomPort < 0 || opts.mushroomPort > 65535 {
		return errors.New(errors.CodePortInvalid).WithSubject(strconv.Itoa(opts.mushroomPort))
	}

	shutdownMessage := cfg.Dev.ShutdownMessage
	if opts.shutdownMessage != "" {
		shutdownMessage = opts.shutdownMessage
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv, err := dev.NewServer(dev.ServerOptions{
		Config:       cfg,
		Addr:         addr,
		MushroomPort: opts.mushroomPort,
		ServeStatic:  serveStatic(cfg, opts),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := shutdownContext(parent)
	defer stop()

	err = srv.Start(ctx)
	if err != nil {
		if isBindError(err) {
			exitWithBindError(os.Stderr, err)
		}
		return err
	}

	if ctx.Err() != nil && shutdownMessage != "" {
		fmt.Println(shutdownMessage)
	}
	return nil
}

// shutdownContext returns a context cancelled by the first interrupt or
// SIGTERM. Default signal handling is restored before the context is
// cancelled, so a second signal during shutdown terminates the process.
func shutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigs:
		case <-ctx.Done():
		}
		signal.Stop(sigs)
		cancel()
	}()
	return ctx, cancel
}

// resolveAddr picks the listen address from the argument, falling back to
// the configured development host and port.
func resolveAddr(cfg *config.Config, arg string, useIPv6 bool) (addrport.Addr, error) {
	useIPv6 = useIPv6 || cfg.Dev.IPv6
	if arg != "" {
		return addrport.Parse(arg, useIPv6)
	}

	port := strconv.Itoa(cfg.Dev.Port)
	if cfg.Dev.Host == config.DefaultHost || cfg.Dev.Host == config.DefaultHostIPv6 || cfg.Dev.Host == "" {
		return addrport.Parse(port, useIPv6)
	}
	return addrport.Parse(cfg.DevAddress(), useIPv6)
}

// serveStatic reports whether the static handler is installed: static files
// are served unless disabled, and only in debug mode or with --insecure.
func serveStatic(cfg *config.Config, opts runserverOptions) bool {
	if opts.noStatic || !cfg.StaticEnabled() {
		return false
	}
	return cfg.Debug || opts.insecure
}

func isBindError(err error) bool {
	var me *errors.MushroomError
	return stderrors.As(err, &me) && me.Category == errors.CategoryBind
}

// exitWithBindError prints the bind failure and exits with status 1 without
// running deferred cleanup, since neither server is serving.
func exitWithBindError(w io.Writer, err error) {
	var me *errors.MushroomError
	stderrors.As(err, &me)
	msg := me.Message
	if me.Code == errors.CodeBindFailed && me.Wrapped != nil {
		msg = me.Wrapped.Error()
	}
	fmt.Fprintf(w, "Error: %s\n", msg)
	os.Exit(1)
}

// Package server provides the oracle's top-level CLI commands: serve (run
// the HTTP API and maturity watcher) and keygen (print a fresh oracle
// secret).
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/btcoracle/ernest/pkg/apisrv"
	"github.com/btcoracle/ernest/pkg/attester"
	"github.com/btcoracle/ernest/pkg/config"
	"github.com/btcoracle/ernest/pkg/cryptokeys"
	"github.com/btcoracle/ernest/pkg/noncealloc"
	"github.com/btcoracle/ernest/pkg/statssource"
	"github.com/btcoracle/ernest/pkg/store"
	"github.com/btcoracle/ernest/pkg/watcher"
)

// shutdownGracePeriod bounds how long the HTTP server waits for in-flight
// requests to finish before the serve command exits.
const shutdownGracePeriod = 10 * time.Second

// NewCommands returns the oracle's 'serve' and 'keygen' commands.
func NewCommands() []*cli.Command {
	cfgFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML config overlay (CONFIG_PATH)",
			EnvVars: []string{"CONFIG_PATH"},
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "HTTP API bind port (PORT)",
		},
	}
	return []*cli.Command{
		{
			Name:      "serve",
			Usage:     "Start the oracle's HTTP API and maturity watcher",
			UsageText: "ernest serve [--config path] [--port 3001]",
			Action:    startServer,
			Flags:     cfgFlags,
		},
		{
			Name:      "keygen",
			Usage:     "Generate a fresh oracle secret suitable for ERNEST_KEY",
			UsageText: "ernest keygen",
			Action:    keygen,
		},
	}
}

func newGraceContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	signal.Notify(stop, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}

func keygen(ctx *cli.Context) error {
	keys, err := cryptokeys.GenerateKeyMaterial()
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to generate key material: %w", err), 1)
	}
	fmt.Fprintln(ctx.App.Writer, keys.SecretHex())
	fmt.Fprintln(ctx.App.Writer, "oracle public key:", keys.PublicKeyHex())
	return nil
}

func startServer(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	if p := ctx.Int("port"); p != 0 {
		cfg.Port = p
	}

	log, logLevel, err := cfg.Logger.Build()
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() { _ = log.Sync() }()

	grace := newGraceContext()

	keys, err := cryptokeys.NewKeyMaterialFromHex(cfg.OracleKeyHex)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to load oracle key material: %w", err), 1)
	}

	st, err := store.Open(grace, cfg.DatabaseURL)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to open store: %w", err), 1)
	}
	defer st.Close()

	seed, err := st.AllocateCurrentMaxIndex(grace)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to seed nonce allocator: %w", err), 1)
	}
	allocator := noncealloc.NewAllocator(seed)

	stats := statssource.NewClient()
	att := attester.New(keys, st)
	api := apisrv.New(log, keys, st, allocator, att, stats)

	w := watcher.New(st, att, stats, log, cfg.WatcherInterval)
	go w.Run(grace)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting oracle HTTP API", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sighup)

	var shutdownErr error
Main:
	for {
		select {
		case err := <-errCh:
			shutdownErr = fmt.Errorf("server error: %w", err)
			break Main
		case sig := <-sigCh:
			log.Info("signal received", zap.Stringer("name", sig))
			newLevel, lerr := rereadLogLevel()
			if lerr != nil {
				log.Warn("wrong LOG_LEVEL, signal ignored", zap.Error(lerr))
				continue
			}
			if newLevel != zapcore.InvalidLevel {
				logLevel.SetLevel(newLevel)
				log.Warn("using new logging level", zap.Stringer("level", newLevel))
			}
		case <-grace.Done():
			break Main
		}
	}

	signal.Stop(sigCh)
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shCtx); err != nil {
		log.Warn("error shutting down HTTP server", zap.Error(err))
	}

	if shutdownErr != nil {
		return cli.Exit(shutdownErr, 1)
	}
	return nil
}

func rereadLogLevel() (zapcore.Level, error) {
	v := os.Getenv("LOG_LEVEL")
	if v == "" {
		return zapcore.InvalidLevel, nil
	}
	return zapcore.ParseLevel(v)
}

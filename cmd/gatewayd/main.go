// Command gatewayd is the messaging gateway: REST API, realtime websocket hub
// and object store behind one HTTP listener.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pigeon-im/pigeon/internal/auth"
	"github.com/pigeon-im/pigeon/internal/blob"
	"github.com/pigeon-im/pigeon/internal/handlers"
	"github.com/pigeon-im/pigeon/internal/log"
	"github.com/pigeon-im/pigeon/internal/middleware"
	"github.com/pigeon-im/pigeon/internal/store/sqlstore"
	"github.com/pigeon-im/pigeon/internal/ws"
)

// Config carries the daemon configuration, filled from flags and environment.
type Config struct {
	Addr      string
	BaseURL   string
	Driver    string
	DSN       string
	BlobRoot  string
	Secret    string
	TokenTTL  time.Duration
	SignTTL   time.Duration
	AuthRate  int
	AuthBurst int
	LogLevel  string
}

func main() {
	config := Config{}

	app := &cli.App{
		Name:  "gatewayd",
		Usage: "direct-messaging gateway daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "HTTP listen address",
				Value:       ":8080",
				EnvVars:     []string{"PIGEON_ADDR"},
				Destination: &config.Addr,
			},
			&cli.StringFlag{
				Name:        "base-url",
				Usage:       "Public base URL used in signed object links",
				Value:       "http://localhost:8080",
				EnvVars:     []string{"PIGEON_BASE_URL"},
				Destination: &config.BaseURL,
			},
			&cli.StringFlag{
				Name:        "db-driver",
				Usage:       "Database driver (sqlite3 or postgres)",
				Value:       "sqlite3",
				EnvVars:     []string{"PIGEON_DB_DRIVER"},
				Destination: &config.Driver,
			},
			&cli.StringFlag{
				Name:        "db-dsn",
				Usage:       "Database connection string",
				Value:       "pigeon.db",
				EnvVars:     []string{"PIGEON_DB_DSN"},
				Destination: &config.DSN,
			},
			&cli.StringFlag{
				Name:        "blob-root",
				Usage:       "Directory for stored objects",
				Value:       "objects",
				EnvVars:     []string{"PIGEON_BLOB_ROOT"},
				Destination: &config.BlobRoot,
			},
			&cli.StringFlag{
				Name:        "secret",
				Usage:       "Secret for session tokens and signed URLs",
				EnvVars:     []string{"PIGEON_SECRET"},
				Required:    true,
				Destination: &config.Secret,
			},
			&cli.DurationFlag{
				Name:        "token-ttl",
				Usage:       "Session token lifetime",
				Value:       24 * time.Hour,
				Destination: &config.TokenTTL,
			},
			&cli.DurationFlag{
				Name:        "sign-ttl",
				Usage:       "Signed object URL lifetime",
				Value:       time.Hour,
				Destination: &config.SignTTL,
			},
			&cli.IntFlag{
				Name:        "auth-rate",
				Usage:       "Login/signup attempts allowed per minute per IP",
				Value:       10,
				Destination: &config.AuthRate,
			},
			&cli.IntFlag{
				Name:        "auth-burst",
				Usage:       "Login/signup burst size per IP",
				Value:       5,
				Destination: &config.AuthBurst,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level (debug, info, warn, error)",
				Value:       "info",
				Destination: &config.LogLevel,
			},
		},
		Action: func(*cli.Context) error {
			return run(config)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.L.Error().Err(err).Msg("gatewayd failed")
		os.Exit(1)
	}
}

func run(config Config) error {
	log.SetLevel(config.LogLevel)

	st, err := sqlstore.New(config.Driver, config.DSN)
	if err != nil {
		return err
	}

	blobs, err := blob.New(config.BlobRoot, []byte(config.Secret))
	if err != nil {
		return err
	}

	hub := ws.NewHub()
	go hub.Run()

	limiter := middleware.NewLimiterStore(config.AuthRate, config.AuthBurst, 5*time.Minute)
	defer limiter.Stop()

	router := handlers.NewRouter(handlers.RouterConfig{
		Store:   st,
		Hub:     hub,
		JWT:     auth.NewJWTManager(config.Secret, config.TokenTTL),
		Blobs:   blobs,
		BaseURL: config.BaseURL,
		SignTTL: config.SignTTL,
		Limiter: limiter,
	})

	srv := &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.L.Info().Str("addr", config.Addr).Msg("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-signalCh:
		log.L.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

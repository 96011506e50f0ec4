// Command solmated polls a SolMate for live values and bridges them to
// MQTT. The run loop is wrapped in a fixed-count reconnect policy so
// transient network loss or a planned endpoint redirect does not terminate
// the process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/trymwestin/solmate/internal/config"
	"github.com/trymwestin/solmate/internal/core/mux"
	"github.com/trymwestin/solmate/internal/core/retry"
	"github.com/trymwestin/solmate/internal/core/session"
	"github.com/trymwestin/solmate/internal/core/state"
	"github.com/trymwestin/solmate/internal/mqtt"
	"github.com/trymwestin/solmate/pkg/solmate"
)

const (
	reconnectAttempts = 10
	reconnectDelay    = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	if cfg.SolMate.SerialNum == "" {
		log.Error("serial number is required (solmate.serial_num or SOLMATE_SERIAL_NUM)")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("solmated exiting", "error", err)
		os.Exit(1)
	}
	log.Info("solmated stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	client, err := newClient(cfg, log)
	if err != nil {
		return err
	}

	bus := state.NewEventBus(log)
	store := state.NewStore(bus, log)

	var pub mqtt.Publisher = mqtt.NewStubPublisher(log)
	if cfg.MQTT.Enabled {
		pub = mqtt.NewBridgePublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			SerialNum:   cfg.SolMate.SerialNum,
		}, bus, log)
	}

	if err := pub.Start(ctx); err != nil {
		return err
	}
	defer pub.Stop(context.Background())

	interval := time.Duration(cfg.Poll.IntervalSeconds) * time.Second
	remote := !strings.EqualFold(cfg.SolMate.Mode, "local")

	// Transient transport failures restart the whole session; credential
	// and identity errors never do.
	return retry.Do(ctx, reconnectAttempts, reconnectDelay, transient, func() error {
		return pollLoop(ctx, client, store, cfg.SolMate.Password, interval, remote, log)
	})
}

func pollLoop(
	ctx context.Context,
	client *solmate.Client,
	store *state.Store,
	password string,
	interval time.Duration,
	remote bool,
	log *slog.Logger,
) error {
	if err := client.Quickstart(ctx, password); err != nil {
		return err
	}
	store.SetConnected(true)
	defer store.SetConnected(false)
	defer client.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		vals, err := client.GetLiveValues(ctx)
		if err != nil {
			return err
		}
		store.UpdateLiveValues(vals)
		log.Debug("live values updated", "fields", len(vals))

		if remote {
			online, err := client.CheckOnline(ctx)
			if err != nil {
				return err
			}
			store.SetOnline(online)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func newClient(cfg config.Config, log *slog.Logger) (*solmate.Client, error) {
	ccfg := solmate.Config{
		SerialNum:     cfg.SolMate.SerialNum,
		URI:           cfg.SolMate.URI,
		DeviceID:      cfg.SolMate.DeviceID,
		Timeout:       time.Duration(cfg.SolMate.TimeoutS) * time.Second,
		AuthstorePath: cfg.Authstore.Path,
	}

	switch strings.ToLower(cfg.SolMate.Mode) {
	case "", "remote":
		return solmate.NewClient(ccfg, log), nil
	case "local":
		if ccfg.URI == "" {
			return nil, errors.New("local mode requires solmate.uri (the device's ws:// address)")
		}
		return &solmate.NewLocalClient(ccfg, log).Client, nil
	default:
		return nil, fmt.Errorf("unknown access mode %q", cfg.SolMate.Mode)
	}
}

func transient(err error) bool {
	return errors.Is(err, mux.ErrConnectionClosed) ||
		errors.Is(err, mux.ErrTimeout) ||
		errors.Is(err, session.ErrConnectionClosedOnPurpose)
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

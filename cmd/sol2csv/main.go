// Command sol2csv polls a SolMate's live values and appends them as CSV
// rows to stdout or a file. The column set is fixed from the first
// snapshot; fields missing from later snapshots leave their cell empty.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/trymwestin/solmate/internal/core/mux"
	"github.com/trymwestin/solmate/internal/core/retry"
	"github.com/trymwestin/solmate/pkg/solmate"
)

func main() {
	serialNum := flag.String("serial", os.Getenv("SOLMATE_SERIAL_NUM"), "SolMate serial number")
	password := flag.String("password", os.Getenv("SOLMATE_PASSWORD"), "user password (only needed without a cached token)")
	uri := flag.String("uri", "", "endpoint URI (defaults to the public Sol endpoint)")
	out := flag.String("out", "", "output file (default stdout)")
	interval := flag.Duration("interval", 5*time.Second, "polling interval")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *serialNum == "" {
		log.Error("serial number is required (-serial or SOLMATE_SERIAL_NUM)")
		os.Exit(1)
	}

	var w io.Writer = os.Stdout
	if *out != "" {
		f, err := os.OpenFile(*out, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Error("open output", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := solmate.NewClient(solmate.Config{SerialNum: *serialNum, URI: *uri}, log)

	err := retry.Do(ctx, 10, 30*time.Second, transient, func() error {
		return export(ctx, client, *password, csv.NewWriter(w), *interval)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("sol2csv exiting", "error", err)
		os.Exit(1)
	}
}

func export(ctx context.Context, client *solmate.Client, password string, w *csv.Writer, interval time.Duration) error {
	if err := client.Quickstart(ctx, password); err != nil {
		return err
	}
	defer client.Close()

	vals, err := client.GetLiveValues(ctx)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := append([]string{"serial_number"}, keys...)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	w.Flush()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		row := make([]string, 0, len(keys)+1)
		row = append(row, client.SerialNum())
		for _, k := range keys {
			if v, ok := vals[k]; ok {
				row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if vals, err = client.GetLiveValues(ctx); err != nil {
			return err
		}
	}
}

func transient(err error) bool {
	return errors.Is(err, mux.ErrConnectionClosed) || errors.Is(err, mux.ErrTimeout)
}

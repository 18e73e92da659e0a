package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelops/pacer/pkg/batch"
	"github.com/kestrelops/pacer/pkg/config"
	"github.com/kestrelops/pacer/pkg/credpool"
	"github.com/kestrelops/pacer/pkg/logging"
	"github.com/kestrelops/pacer/pkg/metrics"
	"github.com/kestrelops/pacer/pkg/outcome"
	"github.com/kestrelops/pacer/pkg/pacing"
)

// RunConfig holds flags for the run subcommand
type RunConfig struct {
	ConfigFile string
	InputFile  string
	Fast       bool
}

// createRunCommand creates the batch run subcommand
func createRunCommand() *cobra.Command {
	var flags RunConfig

	cmd := &cobra.Command{
		Use:   "run --input FILE",
		Short: "Run a governed batch of GET operations",
		Long: `Reads one operation per line from the input file in the form

    CLASS URL

and executes every operation through the rate-governed engine. Each
CLASS gets its own learned pacing state, persisted across runs. An
interrupt (Ctrl-C) stops launching new operations but keeps every
already-completed result.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "TOML config file")
	cmd.Flags().StringVarP(&flags.InputFile, "input", "i", "", "operations file (CLASS URL per line)")
	cmd.Flags().BoolVar(&flags.Fast, "fast", false, "use the high-throughput concurrency ceiling")
	cmd.MarkFlagRequired("input")

	return cmd
}

// runBatch wires the engine from configuration and drives one batch
func runBatch(flags RunConfig) error {
	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if flags.Fast {
		cfg.Fast = true
	}
	if len(cfg.Credentials) == 0 {
		return fmt.Errorf("no credentials configured (set PACER_CREDENTIALS or the credentials key)")
	}

	logger := logging.NewLogger("pacer", logging.LogLevel(cfg.LogLevel))

	items, err := readItems(flags.InputFile)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("no operations found in %s", flags.InputFile)
	}

	store, err := metrics.Open(cfg.MetricsPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pacer := pacing.NewController(
		pacing.WithBounds(cfg.FloorDelay, cfg.CeilingDelay),
		pacing.WithGain(cfg.Gain),
		pacing.WithInitialDelay(cfg.InitialDelay),
		pacing.WithLogger(logger),
	)
	if states, err := store.Load(); err != nil {
		logger.Warn("starting with empty pacing state", "error", err.Error())
	} else {
		pacer.Seed(states)
	}
	store.StartFlusher(cfg.FlushInterval, pacer.Snapshot)

	pool := credpool.NewPool(cfg.Credentials,
		credpool.WithDefaultThrottle(cfg.ThrottleDefault),
		credpool.WithLogger(logger),
	)

	runner := batch.NewRunnerWithOptions(pool, pacer, logger, batch.Options{
		Concurrency:     cfg.Concurrency,
		FastConcurrency: cfg.FastConcurrency,
		Fast:            cfg.Fast,
		Timeout:         cfg.Timeout,
		MaxAttempts:     cfg.Attempts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: cfg.Timeout}
	result := runner.RunAll(ctx, items, httpGetWorker(client))

	// Persist what the run learned before reporting
	if err := store.Flush(pacer.Snapshot()); err != nil {
		logger.Warn("final pacing flush failed", "error", err.Error())
	}

	fmt.Printf("Batch complete: %s\n", result.Summary())
	for _, failed := range result.Failed {
		fmt.Printf("  FAILED %s (%s): %s\n",
			failed.Item.ID, failed.Item.Class, failed.Failure.Message)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d operation(s) failed", len(result.Failed))
	}
	return nil
}

// httpGetWorker builds a batch worker that GETs the item's URL with the
// selected credential as a bearer token and maps the response into the
// engine's outcome set. Bodies are never interpreted here.
func httpGetWorker(client *http.Client) batch.Worker {
	return func(ctx context.Context, item batch.Item, cred *credpool.Credential) outcome.Outcome {
		url, ok := item.Input.(string)
		if !ok {
			return outcome.Permanent(fmt.Errorf("item %s has no URL", item.ID))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return outcome.Permanent(err)
		}
		req.Header.Set("Authorization", "Token "+cred.Token())

		resp, err := client.Do(req)
		if err != nil {
			return outcome.FromError(err)
		}
		defer resp.Body.Close()

		out := outcome.FromHTTPStatus(resp.StatusCode, resp.Header,
			fmt.Errorf("%s returned %s", url, resp.Status))
		if out.Kind == outcome.Success {
			// The CLI does not interpret payloads; keep the status line
			out.Payload = resp.Status
		}
		return out
	}
}

// readItems parses "CLASS URL" lines; blank lines and #-comments skipped
func readItems(path string) ([]batch.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	var items []batch.Item
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 'CLASS URL', got %q", lineNo, line)
		}
		items = append(items, batch.Item{
			ID:    fmt.Sprintf("line-%d", lineNo),
			Class: fields[0],
			Input: fields[1],
		})
	}
	return items, scanner.Err()
}

// createStatsCommand creates the stats subcommand
func createStatsCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted pacing state per operation class",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			store, err := metrics.Open(cfg.MetricsPath, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			states, err := store.Load()
			if err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Println("No pacing state recorded yet.")
				return nil
			}

			fmt.Printf("%-30s %12s %8s %10s %s\n",
				"CLASS", "DELAY", "GAIN", "HISTORY", "UPDATED")
			for class, st := range states {
				fmt.Printf("%-30s %11.3fs %8.2f %10d %s\n",
					class, st.DelaySeconds, st.Gain, len(st.History),
					st.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "TOML config file")
	return cmd
}

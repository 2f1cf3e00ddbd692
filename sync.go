package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/relieftools/fieldsync/internal/engine"
	"github.com/relieftools/fieldsync/internal/queue"
	"github.com/relieftools/fieldsync/internal/spool"
)

// triggerTimeout bounds sync cycles fired from SIGHUP or websocket pings.
const triggerTimeout = 2 * time.Minute

var flagWatch bool

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver queued operations to the coordination server",
		Long: `Run one sync cycle: ingest any spooled operation files, gather due queue
items in priority order, and deliver them as a single batch. Failed items
are rescheduled with backoff; conflicting items are parked in the conflict
ledger.

With --watch, keep running: sync on a fixed interval, immediately when
connectivity returns, when an operation is enqueued, and when the server's
change feed signals new activity. Only one watch daemon may run per data
directory; 'fieldsync trigger' pokes it for an immediate cycle.`,
		RunE: runSync,
	}

	cmd.Flags().BoolVar(&flagWatch, "watch", false, "run continuously as a daemon")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	mgr, err := openQueue(logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	client, err := buildAPIClient(logger)
	if err != nil {
		return err
	}

	eng, monitor, err := buildEngine(mgr, client, logger)
	if err != nil {
		return err
	}
	defer eng.Close()
	defer monitor.Close()

	watcher, err := spool.NewWatcher(resolvedCfg.SpoolDir, eng, logger)
	if err != nil {
		return err
	}

	if flagWatch {
		return runWatch(cmd.Context(), eng, monitor, watcher, logger)
	}

	return runOneShot(cmd.Context(), mgr, eng, monitor, watcher)
}

// runOneShot ingests the spool, probes connectivity, and runs one cycle.
func runOneShot(
	ctx context.Context, mgr *queue.Manager, eng *engine.Engine,
	monitor *engine.Monitor, watcher *spool.Watcher,
) error {
	if n := watcher.ScanOnce(ctx); n > 0 {
		statusf("Ingested %d spooled operation(s).\n", n)
	}

	if !monitor.Check(ctx) {
		queued, err := mgr.Count(ctx)
		if err != nil {
			return err
		}

		statusf("Server unreachable. %d operation(s) remain queued for later delivery.\n", queued)

		return nil
	}

	result, err := eng.TriggerSync(ctx)
	if err != nil {
		return err
	}

	if result == nil {
		// Another process (or an enqueue kick) holds the cycle.
		statusf("A sync cycle is already in flight.\n")
		return nil
	}

	if flagJSON {
		return printJSON(result)
	}

	printSyncSummary(result)

	return nil
}

// runWatch runs the continuous daemon: periodic cycles, spool ingestion,
// connectivity probing, and the server's push feed, until signaled to stop.
func runWatch(
	parent context.Context, eng *engine.Engine, monitor *engine.Monitor,
	watcher *spool.Watcher, logger *slog.Logger,
) error {
	cleanup, err := writePIDFile(daemonPIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(parent, logger)

	onSIGHUP(ctx, func() { triggerAsync(eng, logger) }, logger)

	monitor.Start(ctx)
	defer monitor.Close()

	if resolvedCfg.Notify {
		notifier := engine.NewNotifier(notifyURL(), authHeader(),
			func() { triggerAsync(eng, logger) }, logger)
		notifier.Start(ctx)
		defer notifier.Close()
	}

	logger.Info("watch daemon started",
		slog.Duration("interval", resolvedCfg.SyncInterval),
		slog.String("spool", resolvedCfg.SpoolDir),
	)

	if stdoutIsTerminal() {
		fmt.Println("Watching for changes. Press Ctrl-C to stop.")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return eng.Run(ctx, resolvedCfg.SyncInterval) })
	g.Go(func() error { return watcher.Run(ctx) })

	err = g.Wait()

	logger.Info("watch daemon stopped")

	return err
}

// triggerAsync fires a sync cycle without blocking the caller. Overlap with
// a running cycle collapses into a no-op inside the engine.
func triggerAsync(eng *engine.Engine, logger *slog.Logger) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()

		if _, err := eng.TriggerSync(ctx); err != nil {
			logger.Warn("triggered sync failed", slog.String("error", err.Error()))
		}
	}()
}

// notifyURL derives the websocket change-feed endpoint from the server URL.
func notifyURL() string {
	u := resolvedCfg.ServerURL

	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	return strings.TrimSuffix(u, "/") + "/sync/notify"
}

// authHeader builds the Authorization header for the websocket dial. Returns
// nil for unauthenticated deployments.
func authHeader() http.Header {
	if resolvedCfg.APIToken == "" {
		return nil
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+resolvedCfg.APIToken)

	return h
}

// printSyncSummary prints the human-readable outcome of one cycle.
func printSyncSummary(result *engine.BatchResult) {
	if result.TotalProcessed == 0 {
		fmt.Println("Nothing to sync.")
		return
	}

	fmt.Printf("Processed %d operation(s): %d synced, %d conflict(s), %d failed.\n",
		result.TotalProcessed, len(result.Successful), len(result.Conflicts), len(result.Failed))

	for _, c := range result.Conflicts {
		fmt.Printf("  conflict: %s (%s)\n", c.OfflineID, c.Message)
	}

	for _, f := range result.Failed {
		fmt.Printf("  failed:   %s (%s)\n", f.OfflineID, truncate(f.Message, 80))
	}
}

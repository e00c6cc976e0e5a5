package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/conductor/internal/config"
	"github.com/zjrosen/conductor/internal/infrastructure/sqlite"
	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/correlation"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/metrics"
	"github.com/zjrosen/conductor/internal/orchestration/mock"
	"github.com/zjrosen/conductor/internal/orchestration/pool"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
	"github.com/zjrosen/conductor/internal/orchestration/tracing"
	"github.com/zjrosen/conductor/internal/orchestration/window"
	"github.com/zjrosen/conductor/internal/pubsub"
	"github.com/zjrosen/conductor/internal/ui/monitor"
	"github.com/zjrosen/conductor/internal/watcher"
)

// responseGrace lets the readiness watcher report a timeout before the
// worker's own wait gives up.
const responseGrace = 30 * time.Second

// shutdownTimeout bounds flushing spans and stopping the metrics server.
const shutdownTimeout = 10 * time.Second

// errNoAutomation is returned when run is asked to drive real editor windows.
var errNoAutomation = errors.New("no screen automation backend is built in; use --simulate")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker pool until interrupted",
	Long: `Run one worker per configured agent. Workers claim tasks from the board,
inject each prompt into the agent's editor, wait for the response and record it.

Example:
  conductor run --simulate          # Simulated editors, plain log output
  conductor run --simulate --tui    # Simulated editors with the live monitor`,
	RunE: runConductor,
}

var (
	runSimulate bool
	runTUI      bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "drive simulated editors instead of real windows")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "show the live monitor")
}

func runConductor(cmd *cobra.Command, _ []string) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if !runSimulate {
		return errNoAutomation
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.MustNew(reg)

	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return fmt.Errorf("creating trace provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatConfig, "trace provider shutdown", err)
		}
	}()
	tracer := tp.Tracer()

	store, closeStore, err := openStore(c.Tasks)
	if err != nil {
		return err
	}
	defer closeStore()

	board, err := taskboard.NewCoordinator(ctx, store, taskboard.WithTracer(tracer), taskboard.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("loading task board: %w", err)
	}
	if c.Tasks.SeedFile != "" {
		if err := seedBoard(ctx, board, c.Tasks.SeedFile); err != nil {
			return err
		}
	}

	bus := events.NewBus(c.Bus.BufferSize, m)
	defer bus.Close()

	coords := c.Coordinates()
	ui := mock.NewAutomation(coords)
	ui.SetLatency(c.Simulation.Latency)

	orch := window.New(bus, ui, coords,
		window.WithRetryPolicy(c.RetryPolicy()),
		window.WithClipboardPoll(c.Clipboard.PollInterval, c.Clipboard.PollTimeout),
		window.WithWindowTitles(c.WindowTitles()),
		window.WithTracer(tracer),
		window.WithMetrics(m),
	)
	readiness := window.NewReadinessWatcher(orch, ui, bus, c.WatcherConfig())
	waiter := correlation.NewWaiter(bus, events.RetrieveOutcomeTopics,
		correlation.WithResolvedTTL(c.Correlation.ResolvedTTL),
		correlation.WithMetrics(m),
	)

	workers := pool.NewWorkerPool(pool.Config{
		Agents:          c.AgentIDs(),
		PollInterval:    c.Pool.ClaimPollInterval,
		ResponseTimeout: c.Readiness.ResponseTimeout + responseGrace,
		Predicate:       claimPredicate(c.Pool),
	}, board, orch, waiter,
		pool.WithPublisher(bus),
		pool.WithTracer(tracer),
		pool.WithMetrics(m),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Start(gctx) })
	g.Go(func() error { return readiness.Run(gctx) })
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return syncBoard(gctx, board, c.Tasks.SyncInterval) })
	if c.Tasks.SeedFile != "" && c.Tasks.Watch {
		g.Go(func() error { return watchSeed(gctx, board, c.Tasks.SeedFile) })
	}
	if c.Metrics.ListenAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, c.Metrics.ListenAddr, reg) })
	}

	if runTUI {
		g.Go(func() error {
			// Quitting the monitor stops everything else.
			defer stop()
			return runMonitor(gctx, bus, board, c.AgentIDs())
		})
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "conductor running %d agents (Ctrl+C to stop)\n", len(c.Agents))
	}

	err = g.Wait()
	printCounts(cmd, board.Counts())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// openStore returns the configured task store and a func that releases it.
func openStore(tc config.TasksConfig) (taskboard.TaskStore, func(), error) {
	switch tc.Store {
	case config.StoreMemory:
		return taskboard.NewMemoryStore(), func() {}, nil
	default:
		db, err := sqlite.NewDB(tc.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening task database: %w", err)
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.ErrorErr(log.CatDB, "closing task database", err)
			}
		}
		return db.TaskStore(), closeDB, nil
	}
}

func claimPredicate(pc config.PoolConfig) taskboard.Predicate {
	if pc.MinPriority == nil {
		return taskboard.Any
	}
	return taskboard.MinPriority(*pc.MinPriority)
}

func seedBoard(ctx context.Context, board *taskboard.Coordinator, path string) error {
	tasks, err := taskboard.LoadSeedFile(path)
	if err != nil {
		return err
	}
	added, err := board.Seed(ctx, tasks)
	if err != nil {
		return fmt.Errorf("seeding tasks from %s: %w", path, err)
	}
	if added > 0 {
		log.Info(log.CatTasks, "seeded tasks", "path", path, "added", added)
	}
	return nil
}

func watchSeed(ctx context.Context, board *taskboard.Coordinator, path string) error {
	w, err := watcher.New(watcher.DefaultConfig(path))
	if err != nil {
		return err
	}
	return w.Run(ctx, func(ctx context.Context) error {
		return seedBoard(ctx, board, path)
	})
}

// syncBoard reloads the board so tasks written by other processes sharing
// the store become claimable.
func syncBoard(ctx context.Context, board *taskboard.Coordinator, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			added, err := board.Sync(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.ErrorErr(log.CatTasks, "board sync failed", err)
				continue
			}
			if added > 0 {
				log.Debug(log.CatTasks, "board synced", "added", added)
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info(log.CatConfig, "metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("stopping metrics server: %w", err)
	}
	return nil
}

func runMonitor(ctx context.Context, bus *events.Bus, board *taskboard.Coordinator, agents []string) error {
	listener, err := pubsub.NewContinuousListener(ctx, bus, pubsub.Wildcard)
	if err != nil {
		return fmt.Errorf("subscribing monitor: %w", err)
	}
	opts := []monitor.Option{monitor.WithCounts(board.Counts, monitor.DefaultRefreshInterval)}
	if logs := log.NewListener(ctx); logs != nil {
		opts = append(opts, monitor.WithLogs(logs))
	}
	model := monitor.New(listener, agents, opts...)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running monitor: %w", err)
	}
	return nil
}

func printCounts(cmd *cobra.Command, counts map[taskboard.Status]int) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, "tasks:")
	for _, s := range taskboard.AllStatuses {
		fmt.Fprintf(out, " %s=%d", s, counts[s])
	}
	fmt.Fprintln(out)
}

package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/zjrosen/conductor/internal/config"
	"github.com/zjrosen/conductor/internal/infrastructure/sqlite"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

const promptColumnWidth = 48

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the persistent task board",
	Long: `Add, list, seed and prune tasks in the SQLite task database that
running conductor processes claim from.`,
}

var tasksAddCmd = &cobra.Command{
	Use:   "add PROMPT",
	Short: "Add a ready task",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTasksAdd,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in claim order",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksSeedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Add tasks from a YAML seed file, skipping IDs already on the board",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksSeed,
}

var tasksPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete completed and failed tasks",
	Args:  cobra.NoArgs,
	RunE:  runTasksPrune,
}

var (
	addPriority    int
	addID          string
	listStatus     string
	pruneOlderThan time.Duration
)

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksAddCmd, tasksListCmd, tasksSeedCmd, tasksPruneCmd)

	tasksAddCmd.Flags().IntVarP(&addPriority, "priority", "p", 0, "higher priorities are claimed first")
	tasksAddCmd.Flags().StringVar(&addID, "id", "", "task ID (default: generated)")
	tasksListCmd.Flags().StringVarP(&listStatus, "status", "s", "", "only list tasks with this status")
	tasksPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 24*time.Hour,
		"only delete tasks finished at least this long ago")
}

// withBoard opens the configured database and loads the board from it.
func withBoard(ctx context.Context, fn func(*sqlite.DB, *taskboard.Coordinator) error) error {
	c, err := loadedConfig()
	if err != nil {
		return err
	}
	if c.Tasks.Store != config.StoreSQLite {
		return fmt.Errorf("tasks commands need tasks.store %q, config has %q", config.StoreSQLite, c.Tasks.Store)
	}

	db, err := sqlite.NewDB(c.Tasks.DBPath)
	if err != nil {
		return fmt.Errorf("opening task database: %w", err)
	}
	defer db.Close()

	board, err := taskboard.NewCoordinator(ctx, db.TaskStore())
	if err != nil {
		return fmt.Errorf("loading task board: %w", err)
	}
	return fn(db, board)
}

func runTasksAdd(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	return withBoard(cmd.Context(), func(_ *sqlite.DB, board *taskboard.Coordinator) error {
		t, err := board.Add(cmd.Context(), taskboard.Task{ID: addID, Priority: addPriority, Payload: prompt})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s (priority %d)\n", t.ID, t.Priority)
		return nil
	})
}

func runTasksList(cmd *cobra.Command, _ []string) error {
	status := taskboard.Status(listStatus)
	if listStatus != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", listStatus)
	}
	return withBoard(cmd.Context(), func(_ *sqlite.DB, board *taskboard.Coordinator) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tOWNER\tPROMPT")
		for _, t := range board.List() {
			if listStatus != "" && t.Status != status {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Status, t.Priority, orDash(t.Owner),
				runewidth.Truncate(oneLine(t.Payload), promptColumnWidth, "…"))
		}
		return w.Flush()
	})
}

func runTasksSeed(cmd *cobra.Command, args []string) error {
	tasks, err := taskboard.LoadSeedFile(args[0])
	if err != nil {
		return err
	}
	return withBoard(cmd.Context(), func(_ *sqlite.DB, board *taskboard.Coordinator) error {
		added, err := board.Seed(cmd.Context(), tasks)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %d of %d tasks\n", added, len(tasks))
		return nil
	})
}

func runTasksPrune(cmd *cobra.Command, _ []string) error {
	return withBoard(cmd.Context(), func(db *sqlite.DB, _ *taskboard.Coordinator) error {
		n, err := db.TaskStore().PruneFinished(cmd.Context(), time.Now().Add(-pruneOlderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d tasks\n", n)
		return nil
	})
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

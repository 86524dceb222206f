package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskflow/internal/index"
	"github.com/mschirtzinger/taskflow/internal/types"
	"github.com/mschirtzinger/taskflow/internal/ui"
)

var indexCmd = &cobra.Command{
	Use:     "index",
	GroupID: "server",
	Short:   "Manage the SQLite task index",
	Long: `Manage the SQLite index of projects and tasks.

The index is a derived cache for cross-project queries. It is rebuilt from
the files at any time and never written back to them. serve keeps it
current while running.`,
}

var indexSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the index from the project files",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		db := openIndex(ctx)
		defer db.Close()

		fmt.Printf("%s Syncing from %s...\n", ui.RenderAccent("🔄"), cfg.BaseDir)
		start := time.Now()
		stats := syncIndex(ctx, db)

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Projects: %d\n", stats.Projects)
		fmt.Printf("   Tasks: %d\n", stats.Tasks)
		if failed := stats.ProjectsFailed + stats.TasksFailed; failed > 0 {
			fmt.Printf("   %s Skipped: %d unreadable file(s)\n", ui.RenderWarn("⚠"), failed)
		}
		fmt.Printf("   Index: %s\n", db.Path())
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index location, size and counts",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info, err := os.Stat(cfg.Index.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Index not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'taskflow index sync' to create it\n\n")
			return
		}
		if err != nil {
			fatalf("failed to check index: %v", err)
		}

		ctx := context.Background()
		db := openIndex(ctx)
		defer db.Close()

		projects, err := db.ProjectCount(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		tasks, err := db.TaskCount(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		counts, err := db.CountByStatus(ctx, "")
		if err != nil {
			fatalf("%v", err)
		}
		lastSync, err := db.LastSync(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("\n%s Index: %s\n", ui.RenderAccent("📊"), db.Path())
		fmt.Printf("   Size: %.1f KB\n", float64(info.Size())/1024)
		fmt.Printf("   Projects: %d\n", projects)
		fmt.Printf("   Tasks: %d\n", tasks)
		for _, st := range types.TaskStatuses {
			fmt.Printf("     %s: %d\n", ui.RenderStatus(string(st)), counts[st])
		}
		if lastSync != "" {
			fmt.Printf("   Last sync: %s\n", lastSync)
		}
		fmt.Println()
	},
}

var findCmd = &cobra.Command{
	Use:     "find",
	GroupID: "server",
	Short:   "List tasks across projects from the index",
	Long: `List tasks from the index, optionally narrowed to one project and one
status. The index is built first if it does not exist yet; use --sync to
refresh it before querying.`,
	Example: `  taskflow find --status IN_PROGRESS
  taskflow find --project web --status TODO --limit 10`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		statusFlag, _ := cmd.Flags().GetString("status")
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")
		refresh, _ := cmd.Flags().GetBool("sync")

		filter := index.Filter{Project: project, Limit: limit}
		if statusFlag != "" {
			st, err := types.ParseTaskStatus(statusFlag)
			if err != nil {
				fatalf("%v", err)
			}
			filter.Status = st
		}

		_, statErr := os.Stat(cfg.Index.Path)
		ctx := context.Background()
		db := openIndex(ctx)
		defer db.Close()
		if refresh || os.IsNotExist(statErr) {
			syncIndex(ctx, db)
		}

		tasks, err := db.ListTasks(ctx, filter)
		if err != nil {
			fatalf("%v", err)
		}
		if len(tasks) == 0 {
			fmt.Println("No matching tasks.")
			return
		}
		fmt.Println(taskTable(tasks, true))
		fmt.Printf("%d task(s)\n", len(tasks))
	},
}

// openIndex opens the configured index and ensures its schema exists.
func openIndex(ctx context.Context) *index.DB {
	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		fatalf("%v", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		fatalf("%v", err)
	}
	return db
}

func syncIndex(ctx context.Context, db *index.DB) *index.SyncStats {
	m := openManager()
	stats, err := index.NewSyncer(db, m.Store(), newLogger("[index] ")).FullSync(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	return stats
}

func init() {
	findCmd.Flags().StringP("status", "s", "", "only tasks with this status")
	findCmd.Flags().StringP("project", "p", "", "only tasks of this project")
	findCmd.Flags().IntP("limit", "l", 0, "maximum number of tasks (0 for no limit)")
	findCmd.Flags().Bool("sync", false, "rebuild the index before querying")

	indexCmd.AddCommand(indexSyncCmd, indexStatusCmd)
	rootCmd.AddCommand(indexCmd, findCmd)
}

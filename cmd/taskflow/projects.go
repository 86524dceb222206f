package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskflow/internal/types"
	"github.com/mschirtzinger/taskflow/internal/ui"
)

var createProjectCmd = &cobra.Command{
	Use:     "create-project [name]",
	GroupID: "projects",
	Short:   "Create a new project",
	Long: `Create a project directory with an empty tasks/ folder and a project.json.

With --interactive, prompts for the name and description.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		interactive, _ := cmd.Flags().GetBool("interactive")

		var name string
		if len(args) > 0 {
			name = args[0]
		}
		if interactive {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Project name").Value(&name).Validate(required("name")),
				huh.NewText().Title("Description").Value(&description),
			))
			if err := form.Run(); err != nil {
				fatalf("%v", err)
			}
		}
		if name == "" {
			fatalf("project name is required")
		}

		m := openManager()
		project, err := m.CreateProject(name, description)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created project '%s'\n", ui.RenderPass("✓"), project.Name)
		fmt.Printf("Project directory: %s\n", m.Store().ProjectDir(project.Name))
	},
}

var listProjectsCmd = &cobra.Command{
	Use:     "list-projects",
	GroupID: "projects",
	Short:   "List all projects with their completion",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		m := openManager()
		names, err := m.ListProjects()
		if err != nil {
			fatalf("%v", err)
		}
		if len(names) == 0 {
			fmt.Println("No projects found.")
			return
		}

		fmt.Println("\nProjects:")
		for i, name := range names {
			pct := 0.0
			if stats, err := m.ProjectStatus(name); err == nil {
				pct = stats.CompletionPercentage
			}
			fmt.Printf("  %d. %s (%.1f%% complete)\n", i+1, name, pct)
		}
	},
}

var setProjectStatusCmd = &cobra.Command{
	Use:       "set-project-status <project> <status>",
	GroupID:   "projects",
	Short:     "Set a project's status (active, completed, archived)",
	Args:      cobra.ExactArgs(2),
	ValidArgs: projectStatusNames(),
	Run: func(cmd *cobra.Command, args []string) {
		project, err := openManager().SetProjectStatus(args[0], args[1])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Set project '%s' status to %s\n", ui.RenderPass("✓"), project.Name, ui.RenderStatus(string(project.Status)))
	},
}

var statusCmd = &cobra.Command{
	Use:     "status <project>",
	GroupID: "projects",
	Short:   "Show progress of a project",
	Long: `Show task counts and completion for a project.

Counts come from the task files on disk, not from the counters stored in
project.json.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		stats, err := openManager().ProjectStatus(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("\nProject Status: %s\n", ui.RenderBold(args[0]))
		fmt.Println(strings.Repeat("=", 30))
		fmt.Printf("Total Tasks: %d\n", stats.TotalTasks)
		fmt.Printf("Completed: %d\n", stats.CompletedTasks)
		fmt.Printf("Pending: %d\n", stats.PendingTasks)
		fmt.Printf("Progress: %.1f%%\n", stats.CompletionPercentage)
		fmt.Println(ui.ProgressBar(stats.CompletionPercentage, 20))
	},
}

var cleanupCmd = &cobra.Command{
	Use:     "cleanup",
	GroupID: "projects",
	Short:   "Remove project directories that contain no files",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		removed, err := openManager().Cleanup()
		if err != nil {
			fatalf("%v", err)
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to clean up.")
			return
		}
		for _, name := range removed {
			fmt.Printf("  %s %s\n", ui.RenderMuted("-"), name)
		}
		fmt.Printf("%s Removed %d empty project director%s\n", ui.RenderPass("✓"), len(removed), plural(len(removed), "y", "ies"))
	},
}

func projectStatusNames() []string {
	names := make([]string, len(types.ProjectStatuses))
	for i, s := range types.ProjectStatuses {
		names[i] = string(s)
	}
	return names
}

// required returns a huh validator rejecting blank input.
func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New(field + " is required")
		}
		return nil
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	createProjectCmd.Flags().StringP("description", "d", "", "project description")
	createProjectCmd.Flags().BoolP("interactive", "i", false, "prompt for the project details")

	rootCmd.AddCommand(createProjectCmd, listProjectsCmd, setProjectStatusCmd, statusCmd, cleanupCmd)
}

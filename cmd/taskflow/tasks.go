package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskflow/internal/manager"
	"github.com/mschirtzinger/taskflow/internal/types"
	"github.com/mschirtzinger/taskflow/internal/ui"
)

var createTaskCmd = &cobra.Command{
	Use:     "create-task <project> [title]",
	Aliases: []string{"new"},
	GroupID: "tasks",
	Short:   "Create a task in a project",
	Long: `Create a task with the next sequential ID of the project. The task file is
named after the ID and a slug of the title, e.g. tasks/003-fix-login.yaml.

With --interactive, prompts for the title, description and notes.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		description, _ := cmd.Flags().GetString("description")
		notes, _ := cmd.Flags().GetString("notes")
		interactive, _ := cmd.Flags().GetBool("interactive")

		var title string
		if len(args) > 1 {
			title = args[1]
		}
		if interactive {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Title").Value(&title).Validate(required("title")),
				huh.NewText().Title("Description").Value(&description),
				huh.NewText().Title("Notes").Value(&notes),
			))
			if err := form.Run(); err != nil {
				fatalf("%v", err)
			}
		}
		if title == "" {
			fatalf("task title is required")
		}

		task, err := openManager().CreateTask(args[0], title, description, notes)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created task %s: %s\n", ui.RenderPass("✓"), ui.RenderAccent(task.ID), task.Title)
	},
}

var listTasksCmd = &cobra.Command{
	Use:     "list-tasks <project>",
	Aliases: []string{"ls"},
	GroupID: "tasks",
	Short:   "List the tasks of a project",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filter, _ := cmd.Flags().GetString("status")
		var status types.TaskStatus
		if filter != "" {
			parsed, err := types.ParseTaskStatus(filter)
			if err != nil {
				fatalf("%v", err)
			}
			status = parsed
		}

		m := openManager()
		project := args[0]
		ids, err := m.ListTasks(project)
		if err != nil {
			fatalf("%v", err)
		}

		var tasks []*types.Task
		for _, id := range ids {
			task, err := m.GetTask(project, id)
			if err != nil {
				if errors.Is(err, manager.ErrTaskNotFound) {
					continue
				}
				fatalf("%v", err)
			}
			if status != "" && task.Status != status {
				continue
			}
			tasks = append(tasks, task)
		}
		if len(tasks) == 0 {
			fmt.Printf("No tasks found in project '%s'.\n", project)
			return
		}

		fmt.Printf("\nTasks in project '%s':\n", project)
		fmt.Println(taskTable(tasks, false))
	},
}

// taskTable renders tasks as ID/Title/Status/Iterations rows, with a
// leading Project column when withProject is set.
func taskTable(tasks []*types.Task, withProject bool) string {
	headers := []string{"ID", "Title", "Status", "Iterations"}
	if withProject {
		headers = append([]string{"Project"}, headers...)
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		row := []string{
			t.ID,
			truncate(t.Title, 40),
			ui.RenderStatus(string(t.Status)),
			strconv.Itoa(t.TotalIterations),
		}
		if withProject {
			row = append([]string{t.Project}, row...)
		}
		rows = append(rows, row)
	}
	return formatTable(headers, rows)
}

var showTaskCmd = &cobra.Command{
	Use:     "show-task <project> <task-id>",
	GroupID: "tasks",
	Short:   "Show a task and its current iteration",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		details, err := openManager().GetTaskDetails(args[0], args[1])
		if err != nil {
			fatalf("%v", err)
		}
		t := details.Task

		fmt.Printf("\nTask %s: %s\n", t.ID, ui.RenderBold(t.Title))
		fmt.Println(strings.Repeat("=", 50))
		fmt.Printf("Status: %s\n", ui.RenderStatus(string(t.Status)))
		fmt.Printf("Project: %s\n", t.Project)
		fmt.Printf("Created: %s\n", t.Created)
		if t.Started != nil {
			fmt.Printf("Started: %s\n", *t.Started)
		}
		if t.Completed != nil {
			fmt.Printf("Completed: %s\n", *t.Completed)
		}
		fmt.Printf("Iterations: %d\n", details.IterationCount)
		if t.Description != "" {
			fmt.Printf("\nDescription:\n%s\n", t.Description)
		}
		if t.Notes != "" {
			fmt.Printf("\nNotes:\n%s\n", t.Notes)
		}

		if it := details.CurrentIteration; it != nil {
			fmt.Printf("\nCurrent Iteration (%d):\n", it.Iteration)
			fmt.Printf("  Status: %s\n", ui.RenderStatus(string(it.Status)))
			fmt.Printf("  Started: %s\n", it.Started)
			printIndented("Notes", it.Notes)
			printIndented("Summary", it.Summary)
			printIndented("Feedback", it.UserFeedback)
			printIndented("Next Steps", it.NextSteps)
		}
	},
}

func printIndented(label, value string) {
	if value != "" {
		fmt.Printf("  %s: %s\n", label, value)
	}
}

var setTaskStatusCmd = &cobra.Command{
	Use:     "set-task-status <project> <task-id> <status>",
	GroupID: "tasks",
	Short:   "Set a task's status (TODO, IN_PROGRESS, DONE, ARCHIVED)",
	Long: `Set a task's status. Moving to IN_PROGRESS stamps the start time on first
use; moving to DONE stamps the completion time and counts the task as
completed in project.json.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		task, err := openManager().SetTaskStatus(args[0], args[1], args[2])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Set task %s status to %s\n", ui.RenderPass("✓"), task.ID, ui.RenderStatus(string(task.Status)))
	},
}

var startTaskCmd = &cobra.Command{
	Use:     "start-task <project> <task-id>",
	GroupID: "tasks",
	Short:   "Start work on a task, opening a new iteration",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		it, err := openManager().StartTask(args[0], args[1])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Started task %s - created iteration %d\n", ui.RenderPass("✓"), args[1], it.Iteration)
	},
}

var completeTaskCmd = &cobra.Command{
	Use:     "complete-task <project> <task-id>",
	Aliases: []string{"done"},
	GroupID: "tasks",
	Short:   "Mark a task DONE, completing its open iteration",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		task, err := openManager().CompleteTask(args[0], args[1])
		if err != nil {
			fatalf("%v", err)
		}
		if task.Status != types.TaskDone {
			fmt.Printf("%s Task %s is %s, not completed (start it first)\n",
				ui.RenderWarn("⚠"), task.ID, ui.RenderStatus(string(task.Status)))
			return
		}
		fmt.Printf("%s Completed task %s\n", ui.RenderPass("✓"), args[1])
	},
}

func init() {
	createTaskCmd.Flags().StringP("description", "d", "", "task description")
	createTaskCmd.Flags().StringP("notes", "n", "", "task notes")
	createTaskCmd.Flags().BoolP("interactive", "i", false, "prompt for the task details")

	listTasksCmd.Flags().StringP("status", "s", "", "only list tasks with this status")

	rootCmd.AddCommand(createTaskCmd, listTasksCmd, showTaskCmd, setTaskStatusCmd,
		startTaskCmd, completeTaskCmd)
}

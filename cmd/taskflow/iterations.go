package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskflow/internal/manager"
	"github.com/mschirtzinger/taskflow/internal/types"
	"github.com/mschirtzinger/taskflow/internal/ui"
)

// textCommand builds a command that writes one text field of the current
// iteration of a task.
func textCommand(use string, aliases []string, short, done string, set func(*manager.Manager, string, string, string) (*types.Iteration, error)) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Aliases: aliases,
		GroupID: "iterations",
		Short:   short,
		Args:    cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := set(openManager(), args[0], args[1], args[2]); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), done, args[1])
		},
	}
}

var (
	addNoteCmd = textCommand("add-iteration-note <project> <task-id> <note>", []string{"note"},
		"Append a timestamped note to the current iteration", "Added note to task",
		(*manager.Manager).AddIterationNote)
	setSummaryCmd = textCommand("set-iteration-summary <project> <task-id> <summary>", []string{"sum"},
		"Set the summary of the current iteration", "Set summary for task",
		(*manager.Manager).SetIterationSummary)
	addFeedbackCmd = textCommand("add-user-feedback <project> <task-id> <feedback>", nil,
		"Record user feedback on the current iteration", "Added feedback to task",
		(*manager.Manager).AddUserFeedback)
	setNextStepsCmd = textCommand("set-next-steps <project> <task-id> <next-steps>", []string{"next"},
		"Set the next steps of the current iteration", "Set next steps for task",
		(*manager.Manager).SetNextSteps)
)

var completeIterationCmd = &cobra.Command{
	Use:     "complete-iteration <project> <task-id>",
	GroupID: "iterations",
	Short:   "Complete the current iteration without completing the task",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := openManager().CompleteIteration(args[0], args[1]); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Completed current iteration for task %s\n", ui.RenderPass("✓"), args[1])
	},
}

var showIterationCmd = &cobra.Command{
	Use:     "show-iteration <project> <task-id> <number>",
	GroupID: "iterations",
	Short:   "Show one iteration of a task",
	Args:    cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := strconv.Atoi(args[2])
		if err != nil || n < 1 {
			fatalf("iteration number must be a positive integer, got %q", args[2])
		}
		it, err := openManager().GetIteration(args[0], args[1], n)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("\nIteration %d for task %s\n", it.Iteration, it.TaskID)
		fmt.Println(strings.Repeat("=", 50))
		fmt.Printf("Status: %s\n", ui.RenderStatus(string(it.Status)))
		fmt.Printf("Started: %s\n", it.Started)
		if it.Completed != nil {
			fmt.Printf("Completed: %s\n", *it.Completed)
		}
		printSection("Notes", it.Notes)
		printSection("Summary", it.Summary)
		printSection("User Feedback", it.UserFeedback)
		printSection("Next Steps", it.NextSteps)
	},
}

func printSection(title, body string) {
	if body != "" {
		fmt.Printf("\n%s:\n%s\n", title, body)
	}
}

var listIterationsCmd = &cobra.Command{
	Use:     "list-iterations <project> <task-id>",
	GroupID: "iterations",
	Short:   "List the iterations of a task",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		m := openManager()
		project, id := args[0], args[1]
		numbers, err := m.ListIterations(project, id)
		if err != nil {
			fatalf("%v", err)
		}
		if len(numbers) == 0 {
			fmt.Printf("No iterations found for task %s.\n", id)
			return
		}

		fmt.Printf("\nIterations for task %s:\n", id)
		for _, n := range numbers {
			it, err := m.GetIteration(project, id, n)
			if err != nil {
				if errors.Is(err, manager.ErrIterationNotFound) {
					continue
				}
				fatalf("%v", err)
			}
			symbol := ui.RenderMuted("•")
			if it.Status == types.IterationCompleted {
				symbol = ui.RenderPass("✓")
			}
			fmt.Printf("  %s Iteration %d (%s)\n", symbol, n, it.Status)
		}
	},
}

func init() {
	rootCmd.AddCommand(addNoteCmd, setSummaryCmd, addFeedbackCmd, setNextStepsCmd,
		completeIterationCmd, showIterationCmd, listIterationsCmd)
}

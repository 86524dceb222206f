package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskflow/internal/templates"
	"github.com/mschirtzinger/taskflow/internal/ui"
)

var quickCmd = &cobra.Command{
	Use:     "quick <project> <task-id>",
	GroupID: "workflow",
	Short:   "Add a note, summary and next steps to the current iteration at once",
	Example: `  taskflow quick web 003 -n "found the race" -s "fixed locking" -x "add a test"`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		note, _ := cmd.Flags().GetString("note")
		summary, _ := cmd.Flags().GetString("summary")
		nextSteps, _ := cmd.Flags().GetString("next-steps")

		m := openManager()
		project, id := args[0], args[1]
		if note != "" {
			if _, err := m.AddIterationNote(project, id, note); err != nil {
				fatalf("%v", err)
			}
		}
		if summary != "" {
			if _, err := m.SetIterationSummary(project, id, summary); err != nil {
				fatalf("%v", err)
			}
		}
		if nextSteps != "" {
			if _, err := m.SetNextSteps(project, id, nextSteps); err != nil {
				fatalf("%v", err)
			}
		}
		fmt.Printf("%s Updated task %s\n", ui.RenderPass("✓"), id)
	},
}

var continueCmd = &cobra.Command{
	Use:     "continue <project> <task-id>",
	GroupID: "workflow",
	Short:   "Reopen a task and start a new iteration",
	Long: `Start a new iteration on a task. A DONE task is moved back to IN_PROGRESS
first. The reason, if given, becomes the first note of the new iteration.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		it, err := openManager().ContinueTask(args[0], args[1], reason)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Continuing task %s with iteration %d\n", ui.RenderPass("✓"), args[1], it.Iteration)
	},
}

var cloneCmd = &cobra.Command{
	Use:     "clone <project> <source-id>",
	GroupID: "workflow",
	Short:   "Create a new task from an existing one",
	Long: `Create a new task copying the description of an existing task. The title
defaults to "<source title> (copy)" and the notes to the source notes.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")
		notes, _ := cmd.Flags().GetString("notes")
		task, err := openManager().CloneTask(args[0], args[1], title, notes)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created task %s from task %s\n", ui.RenderPass("✓"), task.ID, args[1])
	},
}

var newFromTemplateCmd = &cobra.Command{
	Use:     "new-from-template <project> <template>",
	GroupID: "workflow",
	Short:   "Create a task from a named template",
	Long: `Create a task from a template. Placeholders such as {component} in the
template's title, description and notes are replaced with --var values.
Placeholders without a value are left as they are.`,
	Example: `  taskflow new-from-template web bug_investigation -v component=login -v symptom="500 on submit"`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pairs, _ := cmd.Flags().GetStringArray("var")
		vars, err := templates.ParseVars(pairs)
		if err != nil {
			fatalf("%v", err)
		}

		set := loadTemplates()
		t, err := set.Apply(args[1], vars)
		if err != nil {
			fatalf("%v", err)
		}
		title := t.Title
		if title == "" {
			title = "New Task"
		}

		task, err := openManager().CreateTask(args[0], title, t.Description, t.Notes)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Created task %s from template '%s'\n", ui.RenderPass("✓"), task.ID, args[1])
	},
}

var templatesCmd = &cobra.Command{
	Use:     "templates",
	GroupID: "workflow",
	Short:   "List the available task templates",
	Long: `List the built-in templates and the *.toml templates found in the
templates directory (templates.dir, default <base_dir>/.templates). A file
template with the same name as a built-in replaces it.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		set := loadTemplates()
		fmt.Println("\nAvailable Templates:")
		fmt.Println(strings.Repeat("-", 30))
		for _, name := range set.Names() {
			t, _ := set.Get(name)
			fmt.Printf("• %s", ui.RenderBold(name))
			if t.Source != "builtin" {
				fmt.Printf(" %s", ui.RenderMuted("("+t.Source+")"))
			}
			fmt.Println()
			if t.Title != "" {
				fmt.Printf("  Title pattern: %s\n", t.Title)
			}
			if ph := t.Placeholders(); len(ph) > 0 {
				fmt.Printf("  Variables: %s\n", strings.Join(ph, ", "))
			}
		}
		fmt.Println()
	},
}

var templatesSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Write a template file to the templates directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")
		description, _ := cmd.Flags().GetString("description")
		notes, _ := cmd.Flags().GetString("notes")
		if title == "" {
			fatalf("--title is required")
		}

		set := loadTemplates()
		t := templates.Template{Title: title, Description: description, Notes: notes}
		if err := set.Save(args[0], t); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Saved template '%s' to %s\n", ui.RenderPass("✓"), args[0], cfg.Templates.Dir)
	},
}

func loadTemplates() *templates.Set {
	set, err := templates.Load(cfg.Templates.Dir, newLogger("[templates] "))
	if err != nil {
		fatalf("%v", err)
	}
	return set
}

func init() {
	quickCmd.Flags().StringP("note", "n", "", "append a note")
	quickCmd.Flags().StringP("summary", "s", "", "set the summary")
	quickCmd.Flags().StringP("next-steps", "x", "", "set the next steps")

	continueCmd.Flags().StringP("reason", "r", "", "reason for continuing")

	cloneCmd.Flags().StringP("title", "t", "", "title of the new task")
	cloneCmd.Flags().StringP("notes", "n", "", "notes of the new task")

	newFromTemplateCmd.Flags().StringArrayP("var", "v", nil, "template variable as key=value (repeatable)")

	templatesSaveCmd.Flags().StringP("title", "t", "", "title pattern")
	templatesSaveCmd.Flags().StringP("description", "d", "", "description pattern")
	templatesSaveCmd.Flags().StringP("notes", "n", "", "notes pattern")
	templatesCmd.AddCommand(templatesSaveCmd)

	rootCmd.AddCommand(quickCmd, continueCmd, cloneCmd, newFromTemplateCmd, templatesCmd)
}

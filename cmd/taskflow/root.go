package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskflow/internal/config"
	"github.com/mschirtzinger/taskflow/internal/manager"
	"github.com/mschirtzinger/taskflow/internal/ui"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "taskflow",
	Short: "File-based project and task tracking with work iterations",
	Long: `taskflow tracks projects, tasks and the iterations of work done on each
task. Everything lives in plain YAML and JSON files under the base directory:

  <base>/<project>/project.json
  <base>/<project>/tasks/<id>-<slug>.yaml
  <base>/<project>/tasks/<id>.iter<N>.yaml

The files are the source of truth. The serve command exposes the same
operations over HTTP and JSON-RPC and keeps a SQLite index for queries.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig(cmd)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "projects", Title: "Projects:"},
		&cobra.Group{ID: "tasks", Title: "Tasks:"},
		&cobra.Group{ID: "iterations", Title: "Iterations:"},
		&cobra.Group{ID: "workflow", Title: "Workflow shortcuts:"},
		&cobra.Group{ID: "server", Title: "Server and index:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./taskflow.yaml, then ~/.taskflow/config.yaml)")
	rootCmd.PersistentFlags().String("base-dir", "", "base directory holding the projects")
	rootCmd.PersistentFlags().String("color", "", "color output: auto, always or never")
	rootCmd.PersistentFlags().String("index", "", "index database path (default: <base_dir>/.taskflow-index.db)")
}

// initConfig resolves the configuration once flags are parsed. Flags of
// cmd named in config.FlagKeys override the file and environment.
func initConfig(cmd *cobra.Command) {
	loaded, err := config.Load(config.Options{File: cfgFile, Flags: cmd.Flags()})
	if err != nil {
		fatalf("%v", err)
	}
	cfg = loaded
	ui.Init(cfg.Color, os.Stdout)
}

// openManager opens the manager on the configured base directory.
func openManager() *manager.Manager {
	mcfg := manager.DefaultConfig()
	mcfg.BaseDir = cfg.BaseDir
	m, err := manager.New(mcfg)
	if err != nil {
		fatalf("%v", err)
	}
	return m
}

// fatalf prints an error and exits with status 1.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// newLogger returns a stderr logger with the given prefix.
func newLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

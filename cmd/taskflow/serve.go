package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/taskflow/internal/api"
	"github.com/mschirtzinger/taskflow/internal/index"
	"github.com/mschirtzinger/taskflow/internal/manager"
	"github.com/mschirtzinger/taskflow/internal/rpc"
	"github.com/mschirtzinger/taskflow/internal/watch"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Serve the HTTP API and the JSON-RPC WebSocket endpoint",
	Long: `Start the HTTP API and the JSON-RPC server against the base directory.

Every mutation made through either transport is announced to connected
RPC clients as mcp.taskUpdated or mcp.projectUpdated. The base directory is
also watched, so writes made by other processes (such as this CLI) are
announced too and kept in the SQLite index.

Endpoints:
  HTTP API   http://<http-addr>/projects...
  JSON-RPC   ws://<rpc-addr>/
  Health     /health on both`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServe(); err != nil {
			fatalf("%v", err)
		}
	},
}

// runServe runs both servers until interrupted. The index is opened before
// the RPC listener starts.
func runServe() error {
	out, closeLog := logOutput()
	defer closeLog()
	logFlags := log.LstdFlags

	mcfg := manager.DefaultConfig()
	mcfg.BaseDir = cfg.BaseDir
	mcfg.Logger = log.New(out, "[storage] ", logFlags)
	managers, err := manager.NewSwitcher(mcfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := index.Open(cfg.Index.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	rpcServer := rpc.NewServer(managers, &rpc.Config{
		Addr:   cfg.RPC.Addr,
		Logger: log.New(out, "[rpc] ", logFlags),
	})
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("failed to start RPC server: %w", err)
	}
	defer func() {
		if err := rpcServer.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
		}
	}()

	mirror := &mirror{
		ctx:       ctx,
		db:        db,
		publisher: rpcServer,
		debounce:  cfg.Watch.Debounce,
		logger:    log.New(out, "[watch] ", logFlags),
	}
	mirror.follow(managers.Current())
	managers.OnSwitch(mirror.follow)
	defer mirror.stop()

	gin.SetMode(gin.ReleaseMode)
	apiServer := api.NewServer(managers, rpcServer, log.New(out, "[api] ", logFlags))

	fmt.Printf("Serving %s\n", managers.Current().BaseDir())
	fmt.Printf("HTTP API:  http://%s\n", cfg.HTTP.Addr)
	fmt.Printf("JSON-RPC:  ws://%s/\n", rpcServer.Addr())
	fmt.Println("\nPress Ctrl+C to stop...")

	if err := apiServer.Serve(ctx, cfg.HTTP.Addr); err != nil {
		return err
	}
	fmt.Println("\nShutting down...")
	return nil
}

// logOutput returns the serve log destination: a rotating file when
// log.file is set, stderr otherwise.
func logOutput() (io.Writer, func()) {
	if cfg.Log.File == "" {
		return os.Stderr, func() {}
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
	return lj, func() { _ = lj.Close() }
}

// mirror keeps the index and the RPC clients in step with the file tree of
// the active manager. follow is called again whenever the base directory
// is switched.
type mirror struct {
	ctx       context.Context
	db        *index.DB
	publisher api.Publisher
	debounce  time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// follow stops watching the previous tree, rebuilds the index from m and
// watches m's base directory.
func (mr *mirror) follow(m *manager.Manager) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.stopLocked()

	syncer := index.NewSyncer(mr.db, m.Store(), mr.logger)
	if _, err := syncer.FullSync(mr.ctx); err != nil {
		mr.logger.Printf("WARNING: index sync failed: %v", err)
	}

	w, err := watch.New(&watch.Config{
		BaseDir:  m.BaseDir(),
		Debounce: mr.debounce,
		Logger:   mr.logger,
	})
	if err != nil {
		mr.logger.Printf("WARNING: file watching disabled: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(mr.ctx)
	done := make(chan struct{})
	mr.cancel, mr.done = cancel, done
	go func() {
		defer close(done)
		if err := w.Run(ctx, mr.handler(ctx, syncer)); err != nil {
			mr.logger.Printf("Watcher stopped: %v", err)
		}
	}()
}

func (mr *mirror) handler(ctx context.Context, syncer *index.Syncer) watch.Handler {
	return func(c watch.Change) {
		switch c.Kind {
		case watch.KindProject:
			if err := syncer.SyncProject(ctx, c.Project); err != nil {
				mr.logger.Printf("WARNING: Failed to index project %s: %v", c.Project, err)
			}
			mr.publisher.ProjectUpdated(c.Project)
		default:
			if c.Kind == watch.KindTask {
				if err := syncer.SyncTask(ctx, c.Project, c.TaskID); err != nil {
					mr.logger.Printf("WARNING: Failed to index task %s/%s: %v", c.Project, c.TaskID, err)
				}
			}
			mr.publisher.TaskUpdated(c.Project, c.TaskID)
		}
	}
}

func (mr *mirror) stop() {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.stopLocked()
}

func (mr *mirror) stopLocked() {
	if mr.cancel == nil {
		return
	}
	mr.cancel()
	<-mr.done
	mr.cancel, mr.done = nil, nil
}

func init() {
	serveCmd.Flags().String("http-addr", "", "HTTP API listen address (default: 127.0.0.1:8765)")
	serveCmd.Flags().String("rpc-addr", "", "JSON-RPC listen address (default: 127.0.0.1:8787)")
	serveCmd.Flags().String("log-file", "", "write the server log to this file, rotated by size")

	rootCmd.AddCommand(serveCmd)
}

package index

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mschirtzinger/taskflow/internal/storage"
	"github.com/mschirtzinger/taskflow/internal/types"
)

// Source is the read side of the project tree. *storage.Store implements it.
type Source interface {
	ListProjects() ([]string, error)
	LoadProject(name string) (*types.Project, error)
	ListTasks(project string) ([]string, error)
	LoadTask(project, id string) (*types.Task, error)
}

// SyncStats summarizes a FullSync.
type SyncStats struct {
	Projects       int
	Tasks          int
	ProjectsFailed int
	TasksFailed    int
}

// Syncer copies entities from a Source into the index.
//
// Syncing is resilient: a file that cannot be read is logged and skipped,
// and the rest of the tree is still synced.
type Syncer struct {
	db     *DB
	src    Source
	logger *log.Logger
}

// NewSyncer returns a Syncer. The database schema must already exist.
// A nil logger logs to stderr.
func NewSyncer(db *DB, src Source, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[index] ", log.LstdFlags)
	}
	return &Syncer{db: db, src: src, logger: logger}
}

// FullSync rebuilds the index from scratch.
func (s *Syncer) FullSync(ctx context.Context) (*SyncStats, error) {
	projects, err := s.src.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	if err := s.db.Reset(ctx); err != nil {
		return nil, err
	}

	stats := &SyncStats{}
	for _, name := range projects {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		p, err := s.src.LoadProject(name)
		if err == nil {
			err = s.db.UpsertProject(ctx, p)
		}
		if err != nil {
			s.logger.Printf("WARNING: Failed to sync project %s: %v", name, err)
			stats.ProjectsFailed++
			continue
		}
		stats.Projects++

		ids, err := s.src.ListTasks(name)
		if err != nil {
			s.logger.Printf("WARNING: Failed to list tasks of %s: %v", name, err)
			continue
		}
		for _, id := range ids {
			if err := s.SyncTask(ctx, name, id); err != nil {
				s.logger.Printf("WARNING: Failed to sync task %s/%s: %v", name, id, err)
				stats.TasksFailed++
				continue
			}
			stats.Tasks++
		}
	}

	s.logger.Printf("Full sync complete: projects=%d (failed=%d), tasks=%d (failed=%d)",
		stats.Projects, stats.ProjectsFailed, stats.Tasks, stats.TasksFailed)
	return stats, nil
}

// SyncProject refreshes one project row. A project that no longer exists
// on disk is removed from the index along with its tasks.
func (s *Syncer) SyncProject(ctx context.Context, name string) error {
	p, err := s.src.LoadProject(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.db.DeleteProject(ctx, name)
		}
		return err
	}
	return s.db.UpsertProject(ctx, p)
}

// SyncTask refreshes one task row. A task that no longer exists on disk is
// removed from the index.
func (s *Syncer) SyncTask(ctx context.Context, project, id string) error {
	t, err := s.src.LoadTask(project, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.db.DeleteTask(ctx, project, id)
		}
		return err
	}
	return s.db.UpsertTask(ctx, t)
}

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/runthrough-pairing/internal/config"
	"github.com/runthrough-pairing/internal/domain"
)

// LiveStore is where tournaments are read and written while in use
type LiveStore interface {
	IDs(ctx context.Context) ([]int64, error)
	Load(ctx context.Context, id int64) (*domain.Tournament, error)
	Save(ctx context.Context, t *domain.Tournament) error
	Exists(ctx context.Context, id int64) (bool, error)
}

// Archive is the durable copy of the live store
type Archive interface {
	ListTournamentIDs(ctx context.Context) ([]int64, error)
	LoadTournament(ctx context.Context, id int64) (*domain.Tournament, error)
	ArchiveTournament(ctx context.Context, t *domain.Tournament) error
}

// SyncWorker periodically archives live tournaments to PostgreSQL
type SyncWorker struct {
	live    LiveStore
	archive Archive
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	live LiveStore,
	archive Archive,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		live:    live,
		archive: archive,
		config:  cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process after a final archive pass
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			w.syncAll(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll archives every live tournament
func (w *SyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting sync cycle")
	startTime := time.Now()

	ids, err := w.live.IDs(ctx)
	if err != nil {
		w.logger.Error("failed to list tournaments for sync", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, id := range ids {
		if err := w.SyncToDatabase(ctx, id); err != nil {
			w.logger.Error("failed to archive tournament",
				"tournament_id", id,
				"error", err,
			)
			errorCount++
		} else {
			syncedCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// SyncToDatabase archives one live tournament. A tournament deleted in the
// meantime is skipped.
func (w *SyncWorker) SyncToDatabase(ctx context.Context, id int64) error {
	w.logger.Debug("archiving tournament", "tournament_id", id)

	t, err := w.live.Load(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrTournamentNotFound) {
			w.logger.Debug("tournament vanished before archiving", "tournament_id", id)
			return nil
		}
		return err
	}

	if err := w.archive.ArchiveTournament(ctx, t); err != nil {
		return err
	}

	w.logger.Debug("archived tournament",
		"tournament_id", id,
		"player_count", len(t.Players),
		"match_count", len(t.Matches),
	)
	return nil
}

// SyncFromDatabase restores one archived tournament into the live store
// unless a live copy already exists.
func (w *SyncWorker) SyncFromDatabase(ctx context.Context, id int64) (bool, error) {
	exists, err := w.live.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	t, err := w.archive.LoadTournament(ctx, id)
	if err != nil {
		return false, err
	}
	if err := w.live.Save(ctx, t); err != nil {
		return false, err
	}

	w.logger.Debug("restored tournament from database",
		"tournament_id", id,
		"player_count", len(t.Players),
	)
	return true, nil
}

// SyncAllFromDatabase restores every archived tournament missing from the
// live store. It is meant for startup after the cache was lost.
func (w *SyncWorker) SyncAllFromDatabase(ctx context.Context) error {
	w.logger.Info("restoring tournaments from database")

	ids, err := w.archive.ListTournamentIDs(ctx)
	if err != nil {
		return err
	}

	restored := 0
	for _, id := range ids {
		ok, err := w.SyncFromDatabase(ctx, id)
		if err != nil {
			w.logger.Error("failed to restore tournament from database",
				"tournament_id", id,
				"error", err,
			)
			// Continue with other tournaments
			continue
		}
		if ok {
			restored++
		}
	}

	w.logger.Info("completed restoring tournaments from database",
		"archived", len(ids),
		"restored", restored,
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}

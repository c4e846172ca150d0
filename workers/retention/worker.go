package retention

import (
	"context"
	"sync"
	"time"

	"github.com/chatkeeper/chatkeeper/archive"
	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/state"
)

// Config controls the retention worker's scheduled passes.
type Config struct {
	AutoArchiveEnabled  bool
	AutoArchiveInterval time.Duration
	OverflowPolicy      archive.OverflowPolicy

	AutoPurgeEnabled  bool
	AutoPurgeInterval time.Duration
	RetentionDays     int
}

// Worker runs the scheduled retention passes: auto-archive of workspaces over
// their session cap and auto-purge of old archived transcripts. Passes only
// run while this process holds leadership, so a fleet sharing one storage
// root does maintenance exactly once.
type Worker struct {
	cfg    Config
	engine *archive.Engine
	db     *state.DB
	leader func() bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a retention worker. leader gates every pass.
func NewWorker(cfg Config, engine *archive.Engine, db *state.DB, leader func() bool) *Worker {
	if cfg.AutoArchiveInterval <= 0 {
		cfg.AutoArchiveInterval = 30 * time.Minute
	}
	if cfg.AutoPurgeInterval <= 0 {
		cfg.AutoPurgeInterval = 12 * time.Hour
	}

	return &Worker{
		cfg:      cfg,
		engine:   engine,
		db:       db,
		leader:   leader,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduled passes.
func (w *Worker) Start() {
	if !w.cfg.AutoArchiveEnabled && !w.cfg.AutoPurgeEnabled {
		log.Info().Msg("retention worker disabled")
		return
	}

	log.Info().
		Bool("autoArchive", w.cfg.AutoArchiveEnabled).
		Bool("autoPurge", w.cfg.AutoPurgeEnabled).
		Msg("starting retention worker")

	w.wg.Add(1)
	go w.loop()
}

// Stop stops the retention worker and waits for an in-flight pass to finish.
func (w *Worker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
	log.Info().Msg("retention worker stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()

	// Give startup scanning and election a head start before the first pass
	select {
	case <-w.stopChan:
		return
	case <-time.After(10 * time.Second):
	}
	w.tick()

	ticker := time.NewTicker(w.checkInterval())
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// checkInterval is how often due-ness is re-evaluated. Passes themselves run
// on their own intervals, tracked durably so restarts do not reset the clock.
func (w *Worker) checkInterval() time.Duration {
	interval := w.cfg.AutoArchiveInterval
	if w.cfg.AutoPurgeEnabled && w.cfg.AutoPurgeInterval < interval {
		interval = w.cfg.AutoPurgeInterval
	}
	if interval > time.Minute {
		interval = interval / 10
	}
	return interval
}

func (w *Worker) tick() {
	if !w.leader() {
		log.Debug().Msg("not leader, skipping retention pass")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if w.cfg.AutoArchiveEnabled && w.due(state.KeyLastAutoArchive, w.cfg.AutoArchiveInterval) {
		w.runAutoArchive(ctx)
	}
	if w.cfg.AutoPurgeEnabled && w.due(state.KeyLastAutoPurge, w.cfg.AutoPurgeInterval) {
		w.runAutoPurge(ctx)
	}
}

func (w *Worker) due(key string, interval time.Duration) bool {
	last, err := w.db.GetMaintenanceTime(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to read last maintenance time")
		return true
	}
	return last.IsZero() || time.Since(last) >= interval
}

func (w *Worker) markRun(key string) {
	if err := w.db.SetMaintenanceTime(key, time.Now()); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to record maintenance time")
	}
}

func (w *Worker) runAutoArchive(ctx context.Context) {
	log.Debug().Msg("running auto-archive pass")
	if _, err := w.engine.AutoArchive(ctx, w.cfg.OverflowPolicy); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("auto-archive pass failed")
		}
		return
	}
	w.markRun(state.KeyLastAutoArchive)

	// Sessions may appear and vanish between passes; drop exemptions whose
	// session no longer exists
	w.engine.SkipList().Cleanup(w.engine.LiveIDs())
}

func (w *Worker) runAutoPurge(ctx context.Context) {
	log.Debug().Msg("running auto-purge pass")
	olderThan := time.Duration(w.cfg.RetentionDays) * 24 * time.Hour
	if _, err := w.engine.AutoPurge(ctx, olderThan, ""); err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("auto-purge pass failed")
		}
		return
	}
	w.markRun(state.KeyLastAutoPurge)
}

package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/notifications"
	"github.com/chatkeeper/chatkeeper/state"
)

// Store is the single in-process source of truth for the session set. At
// startup it serves the persisted snapshot of the last successful scan so
// listings render instantly, then a fresh incremental scan replaces it. An
// fsnotify watcher keeps entries current between scans.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*ChatSession

	scanner *Scanner
	db      *state.DB
	notif   *notifications.Service

	// One scan at a time; interactive rescans and scheduled rescans share it
	scanMu sync.Mutex

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStore creates a session store. Call Start to load the snapshot and kick
// off the initial scan.
func NewStore(scanner *Scanner, db *state.DB, notif *notifications.Service) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		sessions: make(map[string]*ChatSession),
		scanner:  scanner,
		db:       db,
		notif:    notif,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start loads the cached snapshot, starts the filesystem watcher, and runs
// the initial scan in the background.
func (st *Store) Start() {
	st.loadSnapshot()

	if err := st.startWatcher(); err != nil {
		log.Error().Err(err).Msg("failed to start session watcher, store will rely on scans only")
	}

	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		if _, err := st.Refresh(st.ctx); err != nil && st.ctx.Err() == nil {
			log.Error().Err(err).Msg("initial session scan failed")
		}
	}()
}

// Shutdown stops the watcher and waits for background work.
func (st *Store) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down session store")

	st.cancel()
	if st.watcher != nil {
		st.watcher.Close()
	}

	done := make(chan struct{})
	go func() {
		st.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("session store shutdown complete")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("session store shutdown timed out")
		return ctx.Err()
	}
}

// Sessions returns the current session set.
func (st *Store) Sessions() []*ChatSession {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]*ChatSession, 0, len(st.sessions))
	for _, s := range st.sessions {
		result = append(result, s)
	}
	return result
}

// Get returns a session by id.
func (st *Store) Get(id string) (*ChatSession, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// IDs returns the set of known session ids.
func (st *Store) IDs() map[string]bool {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := make(map[string]bool, len(st.sessions))
	for id := range st.sessions {
		ids[id] = true
	}
	return ids
}

// Remove drops a session from the in-memory set (e.g. after it was archived).
// The durable snapshot catches up on the next scan.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
	st.notif.NotifySessionsChanged()
}

// Upsert inserts or replaces one session (e.g. after a restore).
func (st *Store) Upsert(s *ChatSession) {
	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()
	st.notif.NotifySessionsChanged()
}

// Resolver exposes the scanner's workspace resolver for collaborators that
// need to re-derive workspace identity (restore).
func (st *Store) Resolver() *Resolver {
	return st.scanner.resolver
}

// StorageRoot returns the trusted scan root.
func (st *Store) StorageRoot() string {
	return st.scanner.StorageRoot()
}

// Refresh runs a full incremental scan. Each slot's results are applied to
// the store as they arrive (later updates supersede earlier partial ones);
// ids absent from the fresh scan are dropped at the end, and the durable
// snapshot is replaced.
func (st *Store) Refresh(ctx context.Context) ([]*ChatSession, error) {
	st.scanMu.Lock()
	defer st.scanMu.Unlock()

	seen := make(map[string]bool)
	var all []*ChatSession

	err := st.scanner.ScanIncremental(ctx, func(sessions []*ChatSession) {
		if len(sessions) == 0 {
			return
		}
		st.mu.Lock()
		for _, s := range sessions {
			st.sessions[s.ID] = s
			seen[s.ID] = true
		}
		st.mu.Unlock()
		all = append(all, sessions...)
		st.notif.NotifySessionsChanged()
	}, func(message string, percent int) {
		st.notif.NotifyScanProgress(message, percent)
	})
	if err != nil {
		return nil, err
	}

	// Drop sessions that no longer exist on disk
	st.mu.Lock()
	for id := range st.sessions {
		if !seen[id] {
			delete(st.sessions, id)
		}
	}
	st.mu.Unlock()
	st.notif.NotifySessionsChanged()

	st.saveSnapshot(all)

	log.Info().Int("sessionCount", len(all)).Msg("session scan complete")
	return all, nil
}

// =============================================================================
// Snapshot persistence
// =============================================================================

func (st *Store) loadSnapshot() {
	cached, err := st.db.LoadSessionSnapshot()
	if err != nil {
		log.Warn().Err(err).Msg("failed to load session snapshot")
		return
	}

	st.mu.Lock()
	for _, c := range cached {
		st.sessions[c.ID] = &ChatSession{
			ID:            c.ID,
			CustomTitle:   c.CustomTitle,
			WorkspaceName: c.WorkspaceName,
			WorkspacePath: c.WorkspacePath,
			LastModified:  c.LastModified,
			FilePath:      c.FilePath,
			StorageRoot:   c.StorageRoot,
			MessageCount:  c.MessageCount,
		}
	}
	st.mu.Unlock()

	if len(cached) > 0 {
		log.Info().Int("count", len(cached)).Msg("loaded session snapshot")
		st.notif.NotifySessionsChanged()
	}
}

func (st *Store) saveSnapshot(sessions []*ChatSession) {
	cached := make([]state.CachedSession, 0, len(sessions))
	for _, s := range sessions {
		cached = append(cached, state.CachedSession{
			ID:            s.ID,
			CustomTitle:   s.CustomTitle,
			WorkspaceName: s.WorkspaceName,
			WorkspacePath: s.WorkspacePath,
			LastModified:  s.LastModified,
			FilePath:      s.FilePath,
			StorageRoot:   s.StorageRoot,
			MessageCount:  s.MessageCount,
		})
	}
	if err := st.db.ReplaceSessionSnapshot(cached); err != nil {
		log.Warn().Err(err).Msg("failed to persist session snapshot")
	}
}

// =============================================================================
// Filesystem watcher
// =============================================================================

func (st *Store) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	st.watcher = watcher

	root := st.scanner.StorageRoot()
	if err := watcher.Add(root); err != nil {
		return err
	}

	// Watch each slot's chatSessions directory
	watched := 0
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			chatDir := filepath.Join(root, entry.Name(), ChatSessionsDir)
			if err := watcher.Add(chatDir); err == nil {
				watched++
			}
		}
	}

	st.wg.Add(1)
	go st.watchLoop()

	log.Debug().Int("watchedDirs", watched+1).Msg("started session directory watcher")
	return nil
}

func (st *Store) watchLoop() {
	defer st.wg.Done()

	for {
		select {
		case <-st.ctx.Done():
			log.Debug().Msg("session watcher stopping")
			return

		case event, ok := <-st.watcher.Events:
			if !ok {
				return
			}
			st.handleFSEvent(event)

		case err, ok := <-st.watcher.Errors:
			if !ok {
				return
			}
			log.Debug().Err(err).Msg("fsnotify error")
		}
	}
}

func (st *Store) handleFSEvent(event fsnotify.Event) {
	root := st.scanner.StorageRoot()

	// New slot directory — start watching its chatSessions dir (which may
	// not exist yet; a later create event covers that case too)
	if event.Op&fsnotify.Create != 0 {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			if filepath.Dir(event.Name) == root {
				_ = st.watcher.Add(filepath.Join(event.Name, ChatSessionsDir))
				return
			}
			if filepath.Base(event.Name) == ChatSessionsDir {
				if err := st.watcher.Add(event.Name); err == nil {
					log.Debug().Str("dir", event.Name).Msg("watching new chatSessions directory")
				}
				return
			}
		}
	}

	if !strings.HasSuffix(event.Name, TranscriptExt) || strings.HasSuffix(event.Name, MetaExt) {
		return
	}

	sessionID := strings.TrimSuffix(filepath.Base(event.Name), TranscriptExt)

	switch {
	case event.Op&fsnotify.Create != 0, event.Op&fsnotify.Write != 0:
		slotDir := filepath.Dir(filepath.Dir(event.Name))
		workspaceName, workspacePath := st.scanner.resolver.Resolve(slotDir, filepath.Base(slotDir))

		s, err := FromFile(event.Name, root, workspaceName, workspacePath)
		if err != nil {
			log.Debug().Err(err).Str("path", event.Name).Msg("failed to parse changed transcript")
			return
		}
		if s == nil {
			return
		}

		st.mu.Lock()
		st.sessions[s.ID] = s
		st.mu.Unlock()
		st.notif.NotifySessionsChanged()
		log.Debug().Str("sessionId", s.ID).Str("op", event.Op.String()).Msg("updated session in store")

	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		st.mu.Lock()
		_, existed := st.sessions[sessionID]
		delete(st.sessions, sessionID)
		st.mu.Unlock()
		if existed {
			st.notif.NotifySessionsChanged()
			log.Debug().Str("sessionId", sessionID).Msg("removed session from store")
		}
	}
}

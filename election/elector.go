package election

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatkeeper/chatkeeper/log"
)

// Config controls the leader election loops.
type Config struct {
	// Enabled selects contested election. When false the elector runs in
	// single-instance mode and is always the leader.
	Enabled bool

	// TTL is how long a lock heartbeat stays fresh. A record older than this
	// is abandoned and may be taken over.
	TTL time.Duration

	// HeartbeatInterval is how often the leader refreshes its heartbeat. It
	// is clamped below TTL so a live leader never looks abandoned.
	HeartbeatInterval time.Duration

	// PollInterval is how often a follower checks the lock for vacancy.
	PollInterval time.Duration

	// OnElected and OnRevoked fire on every leadership transition. Both are
	// optional and are called from the election goroutines.
	OnElected func()
	OnRevoked func()
}

// Elector competes for a shared file lock and tracks whether this process is
// the current leader. Followers poll for a vacant or abandoned lock; the
// leader heartbeats and steps down the moment the lock names someone else.
type Elector struct {
	store      *LockStore
	cfg        Config
	instanceID string

	mu     sync.RWMutex
	leader bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewElector creates an elector with a fresh instance identity.
func NewElector(store *LockStore, cfg Config) *Elector {
	if cfg.Enabled {
		if cfg.TTL <= 0 {
			cfg.TTL = 2 * time.Minute
		}
		if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.TTL {
			cfg.HeartbeatInterval = cfg.TTL / 4
		}
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = cfg.TTL / 2
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Elector{
		store:      store,
		cfg:        cfg,
		instanceID: uuid.NewString(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// InstanceID returns this process's election identity.
func (e *Elector) InstanceID() string {
	return e.instanceID
}

// IsLeader reports whether this process currently holds leadership.
func (e *Elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leader
}

// Start begins competing for the lock. In single-instance mode leadership is
// granted immediately and no goroutines run.
func (e *Elector) Start() {
	if !e.cfg.Enabled {
		log.Info().Msg("leader election disabled, assuming leadership")
		e.promote()
		return
	}

	log.Info().
		Str("instanceId", e.instanceID).
		Str("lockPath", e.store.Path()).
		Dur("ttl", e.cfg.TTL).
		Msg("starting leader election")

	e.wg.Add(2)
	go e.pollLoop()
	go e.heartbeatLoop()
}

// Stop halts the election loops. The lock file is left in place: a leader
// that stops reads as alive until its heartbeat ages out, and the TTL
// takeover path hands leadership on. Removing the file here would also race
// a peer that just claimed it.
func (e *Elector) Stop() {
	e.cancel()
	e.wg.Wait()

	e.mu.Lock()
	wasLeader := e.leader
	e.leader = false
	e.mu.Unlock()
	if wasLeader && e.cfg.Enabled {
		log.Info().Str("instanceId", e.instanceID).Msg("stopped while leader, lock left to expire")
	}
}

func (e *Elector) pollLoop() {
	defer e.wg.Done()

	// First attempt right away so a lone instance leads without waiting a
	// full poll interval
	e.tryElect()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tryElect()
		}
	}
}

func (e *Elector) heartbeatLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.heartbeat()
		}
	}
}

// tryElect is the follower half of the state machine: claim the lock when it
// is vacant, abandoned, or already records this instance (a previous claim
// whose confirmation was lost).
func (e *Elector) tryElect() {
	if e.IsLeader() {
		return
	}

	now := time.Now()
	record := e.store.Read()
	if record != nil && record.OwnerID != e.instanceID && !record.Stale(e.cfg.TTL, now) {
		return
	}

	if record != nil && record.Stale(e.cfg.TTL, now) {
		log.Info().
			Str("staleOwner", record.OwnerID).
			Time("lastHeartbeat", record.HeartbeatTime()).
			Msg("taking over abandoned lock")
	}

	won, err := e.store.TryAcquire(e.instanceID, now)
	if err != nil {
		log.Warn().Err(err).Msg("lock acquisition attempt failed")
		return
	}
	if won {
		e.promote()
	}
}

// heartbeat is the leader half: refresh the heartbeat, and step down when the
// lock no longer names this instance.
func (e *Elector) heartbeat() {
	if !e.IsLeader() {
		return
	}

	ok, err := e.store.Heartbeat(e.instanceID, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("heartbeat write failed")
		return
	}
	if !ok {
		log.Warn().Str("instanceId", e.instanceID).Msg("lock claimed by another instance, stepping down")
		e.demote()
	}
}

func (e *Elector) promote() {
	e.mu.Lock()
	already := e.leader
	e.leader = true
	e.mu.Unlock()
	if already {
		return
	}

	log.Info().Str("instanceId", e.instanceID).Msg("elected leader")
	if e.cfg.OnElected != nil {
		e.cfg.OnElected()
	}
}

func (e *Elector) demote() {
	e.mu.Lock()
	already := !e.leader
	e.leader = false
	e.mu.Unlock()
	if already {
		return
	}

	if e.cfg.OnRevoked != nil {
		e.cfg.OnRevoked()
	}
}

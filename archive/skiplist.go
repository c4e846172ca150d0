package archive

import (
	"sort"
	"time"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/state"
)

// SkipList is the durable set of session ids that automated maintenance must
// leave alone for a while, e.g. sessions the user just restored. Entries
// expire on their own after the configured TTL.
type SkipList struct {
	db  *state.DB
	ttl time.Duration
}

// NewSkipList creates a skip list over the state database with the given
// entry lifetime.
func NewSkipList(db *state.DB, ttl time.Duration) *SkipList {
	return &SkipList{db: db, ttl: ttl}
}

// Add marks a session id as exempt from automated maintenance. Adding an
// existing id refreshes its expiry.
func (sl *SkipList) Add(sessionID string) {
	if err := sl.db.SkipListAdd(sessionID, time.Now().Add(sl.ttl)); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to add session to skip list")
	}
}

// Remove drops a session id from the skip list.
func (sl *SkipList) Remove(sessionID string) {
	if err := sl.db.SkipListRemove(sessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to remove session from skip list")
	}
}

// Contains reports whether a session id is currently exempt. Expired entries
// do not count.
func (sl *SkipList) Contains(sessionID string) bool {
	ok, err := sl.db.SkipListContains(sessionID, time.Now())
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to query skip list")
		return false
	}
	return ok
}

// IDs returns the currently exempt session ids, sorted.
func (sl *SkipList) IDs() []string {
	idSet, err := sl.db.SkipListIDs(time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("failed to list skip list entries")
		return nil
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cleanup removes expired entries and entries whose session no longer exists.
func (sl *SkipList) Cleanup(liveIDs map[string]bool) {
	removed, err := sl.db.SkipListCleanup(liveIDs, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("skip list cleanup failed")
		return
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("cleaned up skip list entries")
	}
}

package election

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/utils"
)

// Record is the on-disk lock file contents. LastHeartbeat is milliseconds
// since the Unix epoch so readers on any platform compare the same clock.
type Record struct {
	OwnerID       string `json:"ownerId"`
	LastHeartbeat int64  `json:"lastHeartbeat"`
}

// HeartbeatTime returns the heartbeat as a time.Time.
func (r *Record) HeartbeatTime() time.Time {
	return time.UnixMilli(r.LastHeartbeat)
}

// Stale reports whether the record's heartbeat is older than ttl.
func (r *Record) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(r.HeartbeatTime()) > ttl
}

// LockStore reads and writes the shared lock file. The file lives on a
// filesystem shared by every competing process; writes are atomic
// (temp-and-rename) so readers never observe a torn record, but there is no
// cross-process test-and-set — claimants write and then re-read to learn who
// actually won.
type LockStore struct {
	path string
}

// NewLockStore creates a lock store over the given file path.
func NewLockStore(path string) *LockStore {
	return &LockStore{path: path}
}

// Path returns the lock file location.
func (ls *LockStore) Path() string {
	return ls.path
}

// Read returns the current lock record, or nil when the file is absent. A
// corrupt record is treated as absent: it cannot name a live owner, so any
// claimant may overwrite it.
func (ls *LockStore) Read() *Record {
	data, err := os.ReadFile(ls.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", ls.path).Msg("failed to read lock file")
		}
		return nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil || record.OwnerID == "" {
		log.Warn().Str("path", ls.path).Msg("lock file is corrupt, treating as absent")
		return nil
	}
	return &record
}

// Write replaces the lock record.
func (ls *LockStore) Write(record Record) error {
	if err := os.MkdirAll(filepath.Dir(ls.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal lock record: %w", err)
	}
	if err := utils.WriteFileAtomic(ls.path, data, 0644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// TryAcquire attempts to claim the lock for ownerID and reports whether the
// claim stuck. Because simultaneous claimants race on the same file, the
// claim is written and then re-read: whoever's write survived is the owner.
func (ls *LockStore) TryAcquire(ownerID string, now time.Time) (bool, error) {
	if err := ls.Write(Record{OwnerID: ownerID, LastHeartbeat: now.UnixMilli()}); err != nil {
		return false, err
	}

	record := ls.Read()
	return record != nil && record.OwnerID == ownerID, nil
}

// Heartbeat refreshes the heartbeat timestamp, but only while ownerID still
// owns the lock. Returns false when ownership was lost.
func (ls *LockStore) Heartbeat(ownerID string, now time.Time) (bool, error) {
	record := ls.Read()
	if record == nil || record.OwnerID != ownerID {
		return false, nil
	}
	if err := ls.Write(Record{OwnerID: ownerID, LastHeartbeat: now.UnixMilli()}); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the lock file.
func (ls *LockStore) Remove() error {
	err := os.Remove(ls.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

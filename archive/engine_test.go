package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chatkeeper/chatkeeper/notifications"
	"github.com/chatkeeper/chatkeeper/session"
	"github.com/chatkeeper/chatkeeper/state"
)

type fixture struct {
	root   string
	engine *Engine
	store  *session.Store
	db     *state.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	// Keep trash writes away from the real home directory
	t.Setenv("HOME", t.TempDir())

	db, err := state.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notif := notifications.NewService()
	t.Cleanup(notif.Close)

	root := t.TempDir()
	store := session.NewStore(session.NewScanner(root, session.NewResolver(nil)), db, notif)
	engine := NewEngine(store, t.TempDir(), NewSkipList(db, 10*time.Minute), notif)

	return &fixture{root: root, engine: engine, store: store, db: db}
}

// addSession writes a one-turn transcript into a slot and returns its path.
func (f *fixture) addSession(t *testing.T, slot, id, text string) string {
	t.Helper()
	chatDir := filepath.Join(f.root, slot, session.ChatSessionsDir)
	if err := os.MkdirAll(chatDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(chatDir, id+session.TranscriptExt)
	content := fmt.Sprintf(`{"version":1,"requests":[{"message":{"text":%q},"response":{}}]}`, text)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (f *fixture) refresh(t *testing.T) {
	t.Helper()
	if _, err := f.store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	f := newFixture(t)
	original := f.addSession(t, "slot", "s1", "hello")
	f.refresh(t)

	archivePath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if _, err := os.Stat(original); !os.IsNotExist(err) {
		t.Error("original transcript should be gone after archive")
	}
	if _, err := os.Stat(archivePath); err != nil {
		t.Errorf("archived transcript missing: %v", err)
	}
	if _, err := os.Stat(sidecarPath(archivePath)); err != nil {
		t.Errorf("sidecar missing: %v", err)
	}
	if _, err := f.store.Get("s1"); err == nil {
		t.Error("archived session should leave the live set")
	}

	meta, err := readSidecar(archivePath)
	if err != nil {
		t.Fatalf("readSidecar: %v", err)
	}
	if meta.OriginalPath != original || meta.SessionID != "s1" {
		t.Errorf("sidecar = %+v", meta)
	}

	restoredPath, err := f.engine.Restore(archivePath, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restoredPath != original {
		t.Errorf("restored to %q, want original %q", restoredPath, original)
	}
	if _, err := os.Stat(sidecarPath(archivePath)); !os.IsNotExist(err) {
		t.Error("sidecar should be removed after restore")
	}
	if _, err := f.store.Get("s1"); err != nil {
		t.Errorf("restored session missing from live set: %v", err)
	}
	if !f.engine.SkipList().Contains("s1") {
		t.Error("restored session should be on the skip list")
	}
}

func TestArchiveCollisionKeepsBothGenerations(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot", "s1", "first generation")
	f.refresh(t)

	firstPath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("first Archive: %v", err)
	}

	// Same session id is created again and archived again
	f.addSession(t, "slot", "s1", "second generation")
	f.refresh(t)
	secondPath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("second Archive: %v", err)
	}

	if firstPath == secondPath {
		t.Fatal("collision should yield a distinct archive path")
	}
	if _, err := os.Stat(firstPath); err != nil {
		t.Errorf("first generation missing: %v", err)
	}
	if _, err := os.Stat(secondPath); err != nil {
		t.Errorf("second generation missing: %v", err)
	}
}

func TestRestoreToReoccupiedPathDeduplicates(t *testing.T) {
	f := newFixture(t)
	original := f.addSession(t, "slot", "s1", "archived copy")
	f.refresh(t)

	archivePath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	// A new transcript reoccupies the original path
	f.addSession(t, "slot", "s1", "newcomer")
	f.refresh(t)

	restoredPath, err := f.engine.Restore(archivePath, "")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restoredPath == original {
		t.Error("restore must not overwrite the reoccupying transcript")
	}
	if _, err := os.Stat(original); err != nil {
		t.Errorf("reoccupying transcript damaged: %v", err)
	}
	if _, err := os.Stat(restoredPath); err != nil {
		t.Errorf("restored transcript missing: %v", err)
	}
}

func TestRestoreToExplicitDestination(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot", "s1", "x")
	f.refresh(t)

	archivePath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "exports")
	restoredPath, err := f.engine.Restore(archivePath, dest)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if filepath.Dir(restoredPath) != dest {
		t.Errorf("restored to %q, want directory %q", restoredPath, dest)
	}
}

func TestRestoreWithoutSidecarNeedsExplicitDestination(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot", "s1", "x")
	f.refresh(t)

	archivePath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if err := os.Remove(sidecarPath(archivePath)); err != nil {
		t.Fatal(err)
	}

	// The original location is unknown without the sidecar
	if _, err := f.engine.Restore(archivePath, ""); err == nil {
		t.Error("restore to original path should fail without a sidecar")
	}

	dest := filepath.Join(t.TempDir(), "recovered")
	restoredPath, err := f.engine.Restore(archivePath, dest)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if filepath.Dir(restoredPath) != dest {
		t.Errorf("restored to %q, want directory %q", restoredPath, dest)
	}
	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Error("archived transcript should be gone")
	}
	if !f.engine.SkipList().Contains("s1") {
		t.Error("restored session should be skip-listed under its file-name id")
	}
}

func TestPermanentDeleteRemovesEntryAndSidecar(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot", "s1", "x")
	f.refresh(t)

	archivePath, err := f.engine.Archive("s1")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if err := f.engine.PermanentDelete(archivePath); err != nil {
		t.Fatalf("PermanentDelete: %v", err)
	}
	if _, err := os.Stat(archivePath); !os.IsNotExist(err) {
		t.Error("archived transcript should be gone")
	}
	if _, err := os.Stat(sidecarPath(archivePath)); !os.IsNotExist(err) {
		t.Error("sidecar should be gone")
	}

	// The workspace quarantine directory held nothing else and is pruned
	if _, err := os.Stat(filepath.Dir(archivePath)); !os.IsNotExist(err) {
		t.Error("empty quarantine workspace directory should be pruned")
	}
}

func TestListArchivedNewestFirstWithWorkspaceFilter(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot-a", "a1", "x")
	f.addSession(t, "slot-b", "b1", "y")
	f.refresh(t)

	if _, err := f.engine.Archive("a1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Archive("b1"); err != nil {
		t.Fatal(err)
	}

	all, err := f.engine.ListArchived("")
	if err != nil {
		t.Fatalf("ListArchived: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d entries, want 2", len(all))
	}
	for _, entry := range all {
		if entry.Title == "" {
			t.Errorf("entry %s has no title", entry.SessionID)
		}
	}

	// Workspace names for descriptor-less slots are opaque slot labels
	filtered, err := f.engine.ListArchived(all[0].WorkspaceName)
	if err != nil {
		t.Fatalf("filtered ListArchived: %v", err)
	}
	if len(filtered) != 1 || filtered[0].SessionID != all[0].SessionID {
		t.Errorf("filtered = %+v", filtered)
	}
}

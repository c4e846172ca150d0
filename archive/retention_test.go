package archive

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

func TestAutoArchiveEnforcesWorkspaceCap(t *testing.T) {
	f := newFixture(t)

	// 205 sessions in one workspace with distinct ages, oldest first
	base := time.Now().Add(-205 * time.Minute)
	for i := 0; i < 205; i++ {
		path := f.addSession(t, "slot", fmt.Sprintf("s%03d", i), "x")
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	processed, err := f.engine.AutoArchive(context.Background(), OverflowPolicy{
		MaxPerWorkspace: 200,
		Action:          ActionArchive,
		Scope:           ScopeAll,
	})
	if err != nil {
		t.Fatalf("AutoArchive: %v", err)
	}
	if processed != 5 {
		t.Errorf("processed = %d, want 5", processed)
	}

	f.refresh(t)
	if got := len(f.store.Sessions()); got != 200 {
		t.Errorf("live sessions = %d, want 200", got)
	}

	// The five oldest were the ones archived
	entries, err := f.engine.ListArchived("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("archived = %d, want 5", len(entries))
	}
	for _, entry := range entries {
		if entry.SessionID >= "s005" {
			t.Errorf("archived %s, expected only the oldest five", entry.SessionID)
		}
	}
}

func TestAutoArchiveExemptsSkipListedSessions(t *testing.T) {
	f := newFixture(t)

	base := time.Now().Add(-10 * time.Minute)
	for i := 0; i < 5; i++ {
		path := f.addSession(t, "slot", fmt.Sprintf("s%d", i), "x")
		mtime := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	// The two oldest are exempt
	f.engine.SkipList().Add("s0")
	f.engine.SkipList().Add("s1")

	processed, err := f.engine.AutoArchive(context.Background(), OverflowPolicy{
		MaxPerWorkspace: 3,
		Action:          ActionArchive,
		Scope:           ScopeAll,
	})
	if err != nil {
		t.Fatalf("AutoArchive: %v", err)
	}

	// Only non-exempt excess is processed, leaving the workspace over cap
	if processed != 0 {
		t.Errorf("processed = %d, want 0", processed)
	}
	f.refresh(t)
	if got := len(f.store.Sessions()); got != 5 {
		t.Errorf("live sessions = %d, want 5", got)
	}
}

func TestAutoArchiveScopedToCurrentWorkspace(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addSession(t, "slot-a", fmt.Sprintf("a%d", i), "x")
		f.addSession(t, "slot-b", fmt.Sprintf("b%d", i), "x")
	}

	processed, err := f.engine.AutoArchive(context.Background(), OverflowPolicy{
		MaxPerWorkspace:  1,
		Action:           ActionArchive,
		Scope:            ScopeCurrent,
		CurrentWorkspace: "slot-a",
	})
	if err != nil {
		t.Fatalf("AutoArchive: %v", err)
	}
	if processed != 2 {
		t.Errorf("processed = %d, want 2", processed)
	}

	// Untouched workspace keeps all its sessions
	f.refresh(t)
	b := 0
	for _, s := range f.store.Sessions() {
		if s.WorkspaceName == "slot-b" {
			b++
		}
	}
	if b != 3 {
		t.Errorf("slot-b sessions = %d, want 3", b)
	}
}

func TestAutoPurgeDeletesOldArchivedEntries(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot", "old", "x")
	f.addSession(t, "slot", "recent", "y")
	f.refresh(t)

	oldPath, err := f.engine.Archive("old")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Archive("recent"); err != nil {
		t.Fatal(err)
	}

	// Age the first entry past the retention window
	meta, err := readSidecar(oldPath)
	if err != nil {
		t.Fatal(err)
	}
	meta.ArchivedAt = time.Now().Add(-40 * 24 * time.Hour)
	if err := writeSidecar(oldPath, *meta); err != nil {
		t.Fatal(err)
	}

	purged, err := f.engine.AutoPurge(context.Background(), 30*24*time.Hour, "")
	if err != nil {
		t.Fatalf("AutoPurge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	entries, err := f.engine.ListArchived("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].SessionID != "recent" {
		t.Errorf("surviving entries = %+v", entries)
	}
}

func TestEmptyArchiveDeletesEverything(t *testing.T) {
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

	result, err := f.engine.EmptyArchive(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("EmptyArchive: %v", err)
	}
	if result.Succeeded != 2 || result.Failed != 0 || result.Cancelled {
		t.Errorf("result = %+v", result)
	}

	entries, err := f.engine.ListArchived("")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("entries after empty = %d, want 0", len(entries))
	}
}

func TestEmptyArchiveHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addSession(t, "slot", fmt.Sprintf("s%d", i), "x")
	}
	f.refresh(t)
	for i := 0; i < 3; i++ {
		if _, err := f.engine.Archive(fmt.Sprintf("s%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.engine.EmptyArchive(ctx, "", 0)
	if err != nil {
		t.Fatalf("EmptyArchive: %v", err)
	}
	if !result.Cancelled {
		t.Error("expected cancelled result")
	}
	if result.Remaining != 3 {
		t.Errorf("remaining = %d, want 3", result.Remaining)
	}
}

func TestBulkArchiveWorkspace(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "slot-a", "a1", "x")
	f.addSession(t, "slot-a", "a2", "y")
	f.addSession(t, "slot-b", "b1", "z")
	f.refresh(t)

	// Workspace name for a descriptor-less slot is its opaque label
	s, err := f.store.Get("a1")
	if err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.ArchiveWorkspace(context.Background(), s.WorkspaceName)
	if err != nil {
		t.Fatalf("ArchiveWorkspace: %v", err)
	}
	if result.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", result.Succeeded)
	}
	if _, err := f.store.Get("b1"); err != nil {
		t.Errorf("other workspace's session should survive: %v", err)
	}
}

package session

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatkeeper/chatkeeper/log"
)

// ProgressFunc reports incremental progress as (message, percentComplete).
type ProgressFunc func(message string, percent int)

// SlotFunc receives the sessions found in one workspace-storage slot. The
// scanner yields between slots so a caller can apply partial results without
// waiting for the full scan.
type SlotFunc func(sessions []*ChatSession)

// Scanner walks a storage root of per-workspace slots and derives session
// metadata from every valid transcript file.
type Scanner struct {
	storageRoot string
	resolver    *Resolver
}

// NewScanner creates a scanner over storageRoot.
func NewScanner(storageRoot string, resolver *Resolver) *Scanner {
	return &Scanner{storageRoot: storageRoot, resolver: resolver}
}

// StorageRoot returns the trusted scan root.
func (sc *Scanner) StorageRoot() string {
	return sc.storageRoot
}

// Scan runs a full scan and returns the complete session set. Running it
// twice against unchanged disk state yields equal sets up to ordering.
func (sc *Scanner) Scan(ctx context.Context) ([]*ChatSession, error) {
	var all []*ChatSession
	err := sc.ScanIncremental(ctx, func(sessions []*ChatSession) {
		all = append(all, sessions...)
	}, nil)
	return all, err
}

// ScanIncremental processes one workspace slot at a time, invoking onSlot
// with each slot's sessions and progress after every slot. A transcript that
// fails to parse is logged and skipped; it never aborts the scan of sibling
// files or other slots. Cancellation is observed between slots.
func (sc *Scanner) ScanIncremental(ctx context.Context, onSlot SlotFunc, progress ProgressFunc) error {
	entries, err := os.ReadDir(sc.storageRoot)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("root", sc.storageRoot).Msg("storage root does not exist, nothing to scan")
			if progress != nil {
				progress("No workspace storage found", 100)
			}
			return nil
		}
		return fmt.Errorf("read storage root: %w", err)
	}

	var slots []os.DirEntry
	for _, entry := range entries {
		if entry.IsDir() {
			slots = append(slots, entry)
		}
	}

	total := len(slots)
	for i, slot := range slots {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sessions := sc.scanSlot(slot.Name())
		if onSlot != nil {
			onSlot(sessions)
		}
		if progress != nil {
			percent := int(math.Round(float64(i+1) / float64(total) * 100))
			progress(fmt.Sprintf("Scanned %d of %d workspaces", i+1, total), percent)
		}
	}

	if total == 0 && progress != nil {
		progress("No workspaces found", 100)
	}
	return nil
}

// scanSlot reads one slot's chatSessions directory and parses every
// transcript in it.
func (sc *Scanner) scanSlot(slotID string) []*ChatSession {
	slotDir := filepath.Join(sc.storageRoot, slotID)
	chatDir := filepath.Join(slotDir, ChatSessionsDir)

	files, err := os.ReadDir(chatDir)
	if err != nil {
		// Slots without a chatSessions directory are normal
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("dir", chatDir).Msg("failed to read chatSessions directory")
		}
		return nil
	}

	workspaceName, workspacePath := sc.resolver.Resolve(slotDir, slotID)

	var sessions []*ChatSession
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), TranscriptExt) || strings.HasSuffix(file.Name(), MetaExt) {
			continue
		}

		path := filepath.Join(chatDir, file.Name())
		if !withinRoot(sc.storageRoot, path) {
			log.Warn().Str("path", path).Msg("transcript path escapes storage root, skipping")
			sc.resolver.ReportFailure(NewResolutionError(path, "transcript path %s escapes the storage root", path))
			continue
		}

		s, err := FromFile(path, sc.storageRoot, workspaceName, workspacePath)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to parse transcript, skipping")
			continue
		}
		if s == nil {
			// Zero conversation turns
			log.Debug().Str("path", path).Msg("ignoring transcript with no conversation turns")
			continue
		}
		sessions = append(sessions, s)
	}

	return sessions
}

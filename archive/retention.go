package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/session"
)

// Overflow actions.
const (
	ActionArchive = "archive"
	ActionDelete  = "delete"
)

// Overflow scopes.
const (
	ScopeAll     = "all"
	ScopeCurrent = "current"
)

// OverflowPolicy caps how many live sessions each workspace may hold and what
// happens to the excess.
type OverflowPolicy struct {
	MaxPerWorkspace  int
	Action           string // ActionArchive or ActionDelete
	Scope            string // ScopeAll or ScopeCurrent
	CurrentWorkspace string // workspace name when Scope is ScopeCurrent
}

// AutoArchive enforces the overflow policy: workspaces over the cap have
// their oldest excess sessions archived (or deleted, per the policy). The
// session set is rescanned first so decisions never run on stale metadata.
// Skip-listed sessions are exempt, which can leave a workspace over the cap
// until their exemption lapses. Returns the number of sessions processed.
func (e *Engine) AutoArchive(ctx context.Context, policy OverflowPolicy) (int, error) {
	if policy.MaxPerWorkspace <= 0 {
		return 0, fmt.Errorf("invalid session cap %d", policy.MaxPerWorkspace)
	}

	sessions, err := e.store.Refresh(ctx)
	if err != nil {
		return 0, fmt.Errorf("rescan before auto-archive: %w", err)
	}

	processed := 0
	for _, group := range session.GroupByWorkspace(sessions) {
		if policy.Scope == ScopeCurrent && group.Name != policy.CurrentWorkspace {
			continue
		}

		excess := len(group.Sessions) - policy.MaxPerWorkspace
		if excess <= 0 {
			continue
		}

		candidates := make([]*session.ChatSession, len(group.Sessions))
		copy(candidates, group.Sessions)
		oldestFirst(candidates)
		candidates = candidates[:excess]

		for _, s := range candidates {
			select {
			case <-ctx.Done():
				return processed, ctx.Err()
			default:
			}

			if e.skipList.Contains(s.ID) {
				log.Debug().Str("sessionId", s.ID).Msg("auto-archive skipping exempt session")
				continue
			}

			switch policy.Action {
			case ActionDelete:
				if err := e.deleteLive(s); err != nil {
					log.Warn().Err(err).Str("sessionId", s.ID).Msg("auto-archive failed to delete session")
					continue
				}
			default:
				if _, err := e.archiveSession(s); err != nil {
					log.Warn().Err(err).Str("sessionId", s.ID).Msg("auto-archive failed to archive session")
					continue
				}
			}
			processed++
		}
	}

	if processed > 0 {
		log.Info().Int("processed", processed).Str("action", policy.Action).Msg("auto-archive pass complete")
	}
	return processed, nil
}

// deleteLive removes a live session outright, without an archive stop-over.
func (e *Engine) deleteLive(s *session.ChatSession) error {
	if err := moveToTrash(s.FilePath); err != nil {
		return err
	}
	e.store.Remove(s.ID)
	e.pruneDirIfEmpty(filepath.Dir(s.FilePath))
	return nil
}

// AutoPurge permanently deletes archived transcripts older than the retention
// window, measured from when they were archived. An empty workspace filter
// purges across all workspaces. Returns the number purged.
func (e *Engine) AutoPurge(ctx context.Context, olderThan time.Duration, workspace string) (int, error) {
	entries, err := e.ListArchived(workspace)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	purged := 0
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return purged, ctx.Err()
		default:
		}

		if entry.ArchivedAt.IsZero() || entry.ArchivedAt.After(cutoff) {
			continue
		}
		if err := e.PermanentDelete(entry.ArchivePath); err != nil {
			log.Warn().Err(err).Str("path", entry.ArchivePath).Msg("auto-purge failed to delete entry")
			continue
		}
		purged++
	}

	if purged > 0 {
		log.Info().Int("purged", purged).Msg("auto-purge pass complete")
	}
	return purged, nil
}

// EmptyArchive permanently deletes archived transcripts, optionally filtered
// to one workspace and to entries at least olderThanDays old. olderThanDays
// of zero means everything matching the workspace filter.
func (e *Engine) EmptyArchive(ctx context.Context, workspace string, olderThanDays int) (*BulkResult, error) {
	entries, err := e.ListArchived(workspace)
	if err != nil {
		return nil, err
	}

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		filtered := entries[:0]
		for _, entry := range entries {
			if !entry.ArchivedAt.IsZero() && !entry.ArchivedAt.After(cutoff) {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	result := &BulkResult{}
	total := len(entries)
	for i, entry := range entries {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Remaining = total - i
			e.notif.NotifyOperationProgress("empty-archive", "Empty archive cancelled", 100)
			return result, nil
		default:
		}

		if err := e.PermanentDelete(entry.ArchivePath); err != nil {
			result.Failed++
			log.Warn().Err(err).Str("path", entry.ArchivePath).Msg("empty archive: entry failed")
		} else {
			result.Succeeded++
		}
		e.notif.NotifyOperationProgress(
			"empty-archive",
			fmt.Sprintf("Deleted %d of %d archived sessions", i+1, total),
			(i+1)*100/total,
		)
	}

	// An all-workspace empty with no age filter leaves nothing worth keeping
	if workspace == "" && olderThanDays == 0 {
		e.pruneEmptyWorkspaceDirs()
	}

	log.Info().Int("deleted", result.Succeeded).Int("failed", result.Failed).Msg("empty archive complete")
	return result, nil
}

func (e *Engine) pruneEmptyWorkspaceDirs() {
	dirs, err := os.ReadDir(e.quarantineRoot)
	if err != nil {
		return
	}
	for _, dir := range dirs {
		if dir.IsDir() {
			e.pruneDirIfEmpty(filepath.Join(e.quarantineRoot, dir.Name()))
		}
	}
}

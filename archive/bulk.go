package archive

import (
	"context"
	"fmt"
	"sort"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/session"
)

// BulkResult summarizes a bulk archive run. When the run is cancelled
// mid-way, Remaining counts the sessions that were never attempted; the
// sessions already archived stay archived.
type BulkResult struct {
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled"`
	Remaining int  `json:"remaining"`
}

// ArchiveMany archives the given sessions one at a time, reporting progress
// after each and honoring cancellation between items. A session that fails to
// archive is counted and skipped; it does not stop the rest.
func (e *Engine) ArchiveMany(ctx context.Context, sessionIDs []string) (*BulkResult, error) {
	result := &BulkResult{}
	total := len(sessionIDs)

	for i, id := range sessionIDs {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.Remaining = total - i
			e.notif.NotifyOperationProgress("archive", "Archive cancelled", 100)
			log.Info().Int("archived", result.Succeeded).Int("remaining", result.Remaining).Msg("bulk archive cancelled")
			return result, nil
		default:
		}

		if _, err := e.Archive(id); err != nil {
			result.Failed++
			log.Warn().Err(err).Str("sessionId", id).Msg("bulk archive: session failed")
		} else {
			result.Succeeded++
		}
		e.notif.NotifyOperationProgress(
			"archive",
			fmt.Sprintf("Archived %d of %d sessions", i+1, total),
			(i+1)*100/total,
		)
	}

	log.Info().Int("archived", result.Succeeded).Int("failed", result.Failed).Msg("bulk archive complete")
	return result, nil
}

// ArchiveWorkspace archives every live session belonging to the named
// workspace.
func (e *Engine) ArchiveWorkspace(ctx context.Context, workspaceName string) (*BulkResult, error) {
	var ids []string
	for _, s := range e.store.Sessions() {
		if s.WorkspaceName == workspaceName {
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return &BulkResult{}, nil
	}
	sort.Strings(ids)
	return e.ArchiveMany(ctx, ids)
}

// oldestFirst sorts sessions by last-modified ascending, oldest first, with
// id as the tie-break so the order is stable.
func oldestFirst(sessions []*session.ChatSession) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].LastModified.Equal(sessions[j].LastModified) {
			return sessions[i].LastModified.Before(sessions[j].LastModified)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

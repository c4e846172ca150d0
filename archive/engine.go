package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/notifications"
	"github.com/chatkeeper/chatkeeper/session"
	"github.com/chatkeeper/chatkeeper/utils"
)

const collisionStampFormat = "20060102-150405"

// Engine moves transcripts between live workspace storage and the quarantine
// area. Archiving is a soft delete: the transcript is relocated, never
// destroyed, and a sidecar records where it came from.
type Engine struct {
	store          *session.Store
	quarantineRoot string
	skipList       *SkipList
	notif          *notifications.Service
}

// NewEngine creates an archive engine rooted at quarantineRoot.
func NewEngine(store *session.Store, quarantineRoot string, skipList *SkipList, notif *notifications.Service) *Engine {
	return &Engine{
		store:          store,
		quarantineRoot: quarantineRoot,
		skipList:       skipList,
		notif:          notif,
	}
}

// QuarantineRoot returns the archive root directory.
func (e *Engine) QuarantineRoot() string {
	return e.quarantineRoot
}

// SkipList exposes the engine's maintenance exemption list.
func (e *Engine) SkipList() *SkipList {
	return e.skipList
}

// LiveIDs returns the ids of the sessions currently in live storage.
func (e *Engine) LiveIDs() map[string]bool {
	return e.store.IDs()
}

// Archive soft-deletes a live session: the transcript moves into a
// per-workspace quarantine subdirectory alongside a sidecar recording its
// origin. Returns the archived transcript's new path.
func (e *Engine) Archive(sessionID string) (string, error) {
	s, err := e.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	return e.archiveSession(s)
}

func (e *Engine) archiveSession(s *session.ChatSession) (string, error) {
	destDir := filepath.Join(e.quarantineRoot, utils.SanitizeFilename(s.WorkspaceName))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	base := filepath.Base(s.FilePath)
	destPath := filepath.Join(destDir, base)
	if _, err := os.Stat(destPath); err == nil {
		// A previous generation of this session is already archived; keep
		// both by stamping the newcomer
		stem := strings.TrimSuffix(base, session.TranscriptExt)
		stamped := fmt.Sprintf("%s.%s%s", stem, time.Now().Format(collisionStampFormat), session.TranscriptExt)
		destPath = filepath.Join(destDir, utils.DeduplicateFilename(destDir, stamped))
	}

	if err := moveFile(s.FilePath, destPath); err != nil {
		return "", fmt.Errorf("move transcript to archive: %w", err)
	}

	if err := writeSidecar(destPath, Sidecar{
		OriginalPath:  s.FilePath,
		SessionID:     s.ID,
		WorkspaceName: s.WorkspaceName,
		ArchivedAt:    time.Now(),
	}); err != nil {
		// Transcript already moved; the sidecar is what makes it restorable,
		// so move it back rather than strand it
		if undoErr := moveFile(destPath, s.FilePath); undoErr != nil {
			log.Error().Err(undoErr).Str("path", destPath).Msg("failed to undo archive after sidecar write failure")
		}
		return "", err
	}

	e.store.Remove(s.ID)
	e.pruneDirIfEmpty(filepath.Dir(s.FilePath))
	e.notif.NotifyArchiveChanged()

	log.Info().Str("sessionId", s.ID).Str("workspace", s.WorkspaceName).Str("archivePath", destPath).Msg("archived session")
	return destPath, nil
}

// Restore moves an archived transcript back to live storage. destDir selects
// an explicit target directory; when empty the sidecar's original location is
// used, with a deduplicated name if that path has since been reoccupied. A
// transcript whose sidecar is lost can still be restored to an explicit
// destination; only the original-path restore needs the sidecar. The restored
// session joins the skip list so automated maintenance does not immediately
// re-archive it.
func (e *Engine) Restore(archivePath, destDir string) (string, error) {
	meta, err := readSidecar(archivePath)
	if err != nil {
		if destDir == "" {
			return "", fmt.Errorf("read archive sidecar: %w", err)
		}
		log.Warn().Err(err).Str("path", archivePath).Msg("restoring without sidecar")
		meta = nil
	}

	var targetPath string
	if destDir != "" {
		targetPath = filepath.Join(destDir, filepath.Base(archivePath))
	} else {
		targetPath = meta.OriginalPath
	}

	targetDir := filepath.Dir(targetPath)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("create restore directory: %w", err)
	}
	if _, err := os.Stat(targetPath); err == nil {
		targetPath = filepath.Join(targetDir, utils.DeduplicateFilename(targetDir, filepath.Base(targetPath)))
	}

	if err := moveFile(archivePath, targetPath); err != nil {
		return "", fmt.Errorf("restore transcript: %w", err)
	}
	removeSidecar(archivePath)
	e.pruneDirIfEmpty(filepath.Dir(archivePath))

	// Without a sidecar the file name is the session identity, as in listings
	sessionID := strings.TrimSuffix(filepath.Base(archivePath), session.TranscriptExt)
	if meta != nil {
		sessionID = meta.SessionID
	}
	e.skipList.Add(sessionID)

	// Rebuild the live entry when the transcript landed back inside the scan
	// root; otherwise the next scan of that location is responsible for it
	root := e.store.StorageRoot()
	if strings.HasPrefix(targetPath, root+string(filepath.Separator)) {
		workspaceName, workspacePath := e.store.Resolver().ResolveFromPath(targetPath)
		if s, err := session.FromFile(targetPath, root, workspaceName, workspacePath); err == nil && s != nil {
			e.store.Upsert(s)
		} else if err != nil {
			log.Warn().Err(err).Str("path", targetPath).Msg("restored transcript failed to parse")
		}
	}

	e.notif.NotifyArchiveChanged()
	log.Info().Str("sessionId", sessionID).Str("path", targetPath).Msg("restored session")
	return targetPath, nil
}

// PermanentDelete removes an archived transcript for good, routing it through
// the desktop trash when one is available.
func (e *Engine) PermanentDelete(archivePath string) error {
	meta, err := readSidecar(archivePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read archive sidecar: %w", err)
	}

	if err := moveToTrash(archivePath); err != nil {
		return fmt.Errorf("delete archived transcript: %w", err)
	}
	removeSidecar(archivePath)
	e.pruneDirIfEmpty(filepath.Dir(archivePath))

	e.notif.NotifyArchiveChanged()
	if meta != nil {
		log.Info().Str("sessionId", meta.SessionID).Msg("permanently deleted archived session")
	} else {
		log.Info().Str("path", archivePath).Msg("permanently deleted archived transcript without sidecar")
	}
	return nil
}

// ListArchived returns the archived transcripts, newest first, optionally
// filtered to one workspace. Entries follow the sidecars; an archived
// transcript without a sidecar is reported with what little the file itself
// yields.
func (e *Engine) ListArchived(workspace string) ([]Entry, error) {
	dirs, err := os.ReadDir(e.quarantineRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read archive root: %w", err)
	}

	var entries []Entry
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		if workspace != "" && dir.Name() != utils.SanitizeFilename(workspace) {
			continue
		}
		entries = append(entries, e.listDir(filepath.Join(e.quarantineRoot, dir.Name()), dir.Name())...)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ArchivedAt.Equal(entries[j].ArchivedAt) {
			return entries[i].ArchivedAt.After(entries[j].ArchivedAt)
		}
		return entries[i].SessionID < entries[j].SessionID
	})
	return entries, nil
}

func (e *Engine) listDir(dir, fallbackWorkspace string) []Entry {
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("failed to read archive directory")
		return nil
	}

	var entries []Entry
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, session.TranscriptExt) || strings.HasSuffix(name, session.MetaExt) {
			continue
		}
		archivePath := filepath.Join(dir, name)

		entry := Entry{
			SessionID:     strings.TrimSuffix(name, session.TranscriptExt),
			WorkspaceName: fallbackWorkspace,
			ArchivePath:   archivePath,
		}
		if meta, err := readSidecar(archivePath); err == nil {
			entry.SessionID = meta.SessionID
			entry.WorkspaceName = meta.WorkspaceName
			entry.OriginalPath = meta.OriginalPath
			entry.ArchivedAt = meta.ArchivedAt
		} else {
			log.Debug().Err(err).Str("path", archivePath).Msg("archived transcript has no readable sidecar")
			if info, statErr := file.Info(); statErr == nil {
				entry.ArchivedAt = info.ModTime()
			}
		}
		if s, err := session.FromFile(archivePath, dir, entry.WorkspaceName, ""); err == nil && s != nil {
			entry.Title = s.DisplayTitle()
			entry.MessageCount = s.MessageCount
		}
		entries = append(entries, entry)
	}
	return entries
}

// pruneDirIfEmpty removes a directory that holds no transcripts and no
// subdirectories. Leftover sidecars are cleaned up with it.
func (e *Engine) pruneDirIfEmpty(dir string) {
	// Never prune the roots themselves
	if dir == e.quarantineRoot || dir == e.store.StorageRoot() {
		return
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, file := range files {
		name := file.Name()
		if file.IsDir() {
			return
		}
		if strings.HasSuffix(name, session.TranscriptExt) && !strings.HasSuffix(name, session.MetaExt) {
			return
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("failed to prune empty directory")
		return
	}
	log.Debug().Str("dir", dir).Msg("pruned empty directory")
}

// moveFile renames src to dst, falling back to copy-and-remove when the two
// paths sit on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

package archive

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/utils"
)

// moveToTrash puts a file in the freedesktop.org trash so a permanent delete
// is still recoverable through the desktop. Falls back to plain removal when
// no trash directory can be prepared (e.g. headless containers).
func moveToTrash(path string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Remove(path)
	}

	trashRoot := filepath.Join(home, ".local", "share", "Trash")
	filesDir := filepath.Join(trashRoot, "files")
	infoDir := filepath.Join(trashRoot, "info")
	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return os.Remove(path)
	}
	if err := os.MkdirAll(infoDir, 0700); err != nil {
		return os.Remove(path)
	}

	name := utils.DeduplicateFilename(filesDir, filepath.Base(path))

	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		url.PathEscape(path), time.Now().Format("2006-01-02T15:04:05"))
	if err := utils.WriteFileAtomic(filepath.Join(infoDir, name+".trashinfo"), []byte(info), 0600); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to write trash info, removing file directly")
		return os.Remove(path)
	}

	if err := os.Rename(path, filepath.Join(filesDir, name)); err != nil {
		os.Remove(filepath.Join(infoDir, name+".trashinfo"))
		// Cross-device or other rename failure; fall back to removal
		return os.Remove(path)
	}
	return nil
}

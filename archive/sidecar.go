package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chatkeeper/chatkeeper/utils"
)

// Sidecar is the .meta.json file written next to every archived transcript.
// It carries everything needed to restore the transcript to where it came
// from, or to re-home it when the original location is gone.
type Sidecar struct {
	OriginalPath  string    `json:"originalPath"`
	SessionID     string    `json:"sessionId"`
	WorkspaceName string    `json:"workspaceName"`
	ArchivedAt    time.Time `json:"archivedAt"`
}

// Entry is one archived transcript as listed to callers: the sidecar's
// contents plus where the archived copy lives now.
type Entry struct {
	SessionID     string    `json:"sessionId"`
	Title         string    `json:"title"`
	WorkspaceName string    `json:"workspaceName"`
	OriginalPath  string    `json:"originalPath"`
	ArchivePath   string    `json:"archivePath"`
	ArchivedAt    time.Time `json:"archivedAt"`
	MessageCount  int       `json:"messageCount"`
}

// sidecarPath returns the sidecar location for an archived transcript.
func sidecarPath(archivePath string) string {
	return archivePath + ".meta.json"
}

func writeSidecar(archivePath string, meta Sidecar) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := utils.WriteFileAtomic(sidecarPath(archivePath), data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

func readSidecar(archivePath string) (*Sidecar, error) {
	data, err := os.ReadFile(sidecarPath(archivePath))
	if err != nil {
		return nil, err
	}
	var meta Sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &meta, nil
}

func removeSidecar(archivePath string) {
	os.Remove(sidecarPath(archivePath))
}

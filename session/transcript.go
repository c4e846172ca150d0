package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// TranscriptExt is the on-disk extension of transcript files
	TranscriptExt = ".json"

	// ChatSessionsDir is the per-slot directory holding transcript files
	ChatSessionsDir = "chatSessions"

	// MetaExt is the extension of archive sidecar files, which also end in
	// .json and must never be mistaken for transcripts
	MetaExt = ".meta.json"

	maxDerivedTitleLen = 50
)

// transcript mirrors the structure of a stored chat transcript file. Only the
// fields needed to derive session metadata are decoded.
type transcript struct {
	Version           int                 `json:"version"`
	RequesterUsername string              `json:"requesterUsername"`
	ResponderUsername string              `json:"responderUsername"`
	CustomTitle       string              `json:"customTitle"`
	Requests          []transcriptRequest `json:"requests"`
}

// transcriptRequest is a single request/response turn.
type transcriptRequest struct {
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Response json.RawMessage `json:"response"`
}

func parseTranscript(path string) (*transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var t transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse transcript: %w", err)
	}
	return &t, nil
}

// title returns the explicit custom title, else a title derived from the
// first user turn's text: embedded newlines collapsed to spaces, truncated to
// 50 characters with an ellipsis marker.
func (t *transcript) title() string {
	if t.CustomTitle != "" {
		return t.CustomTitle
	}
	if len(t.Requests) == 0 {
		return ""
	}
	return deriveTitle(t.Requests[0].Message.Text)
}

func deriveTitle(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxDerivedTitleLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:maxDerivedTitleLen]), " ") + "…"
}

// FromFile rebuilds a ChatSession from a transcript file. The session id is
// derived from the file name. Returns (nil, nil) for transcripts with zero
// conversation turns, which are excluded from the session set entirely.
func FromFile(path, storageRoot, workspaceName, workspacePath string) (*ChatSession, error) {
	t, err := parseTranscript(path)
	if err != nil {
		return nil, err
	}
	if len(t.Requests) == 0 {
		return nil, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat transcript: %w", err)
	}

	return &ChatSession{
		ID:            strings.TrimSuffix(filepath.Base(path), TranscriptExt),
		CustomTitle:   t.title(),
		WorkspaceName: workspaceName,
		WorkspacePath: workspacePath,
		LastModified:  info.ModTime(),
		FilePath:      path,
		StorageRoot:   storageRoot,
		MessageCount:  len(t.Requests),
	}, nil
}

// withinRoot reports whether path stays inside root after cleaning, guarding
// against traversal outside the trusted scan root.
func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

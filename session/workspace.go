package session

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chatkeeper/chatkeeper/log"
)

// descriptorFile names the per-slot file carrying an explicit folder reference
const descriptorFile = "workspace.json"

// projectMarkers identify a directory as a real project checkout during the
// dev-roots fallback search.
var projectMarkers = []string{
	".git",
	".vscode",
	"package.json",
	"go.mod",
	"Cargo.toml",
	"pyproject.toml",
	"README.md",
	"readme.md",
}

// defaultDevRoots are conventional development directories searched, relative
// to the home directory, when nothing else identifies a workspace. This is
// best-effort heuristic guesswork, not a contract.
var defaultDevRoots = []string{
	"Projects",
	"projects",
	"code",
	"dev",
	"src",
	"workspace",
	"repos",
	"git",
}

// Resolver maps a workspace-storage slot to the identity of the workspace
// that owns it. Strategies are attempted in order, each only if the previous
// one failed: descriptor file, open workspace folders, dev-roots search.
type Resolver struct {
	// OpenFolders are workspace folders currently open in the host editor
	OpenFolders []string

	homeDir string
	notify  func(tag, message string)
}

// NewResolver creates a resolver. openFolders may be nil.
func NewResolver(openFolders []string) *Resolver {
	homeDir, _ := os.UserHomeDir()
	return &Resolver{OpenFolders: openFolders, homeDir: homeDir}
}

// SetNotifier installs the channel resolution failures surface through.
// De-duplication of repeated identical failures is the notifier's concern.
func (r *Resolver) SetNotifier(fn func(tag, message string)) {
	r.notify = fn
}

// ReportFailure forwards a resolution failure to the installed notifier.
func (r *Resolver) ReportFailure(err *ResolutionError) {
	if r.notify != nil {
		r.notify(err.Tag, err.Message)
	}
}

// Resolve determines (workspaceName, workspacePath) for one storage slot.
// When every strategy fails, the name is a truncated opaque slot identifier
// and the path is empty.
func (r *Resolver) Resolve(slotDir, slotID string) (string, string) {
	// 1. Explicit descriptor file
	if folderPath, ok := r.readDescriptor(slotDir); ok {
		return filepath.Base(folderPath), folderPath
	}

	// 2/3. The slot id is the only name left to match with; some storage
	// layouts name slots after the workspace folder, so try it against the
	// open folders and the dev roots before giving up.
	if path, ok := r.ResolveName(slotID); ok {
		return filepath.Base(path), path
	}

	r.ReportFailure(NewResolutionError(slotID, "cannot resolve workspace folder for storage slot %s", opaqueLabel(slotID)))
	return opaqueLabel(slotID), ""
}

// ResolveName finds a path for a known workspace name, used when only the
// name survived (e.g. a sidecar of an archived session). Tries open folders
// first, then the dev-roots search.
func (r *Resolver) ResolveName(name string) (string, bool) {
	if name == "" {
		return "", false
	}

	// 2. Currently-open workspace folders, matched by basename
	for _, folder := range r.OpenFolders {
		if filepath.Base(folder) == name {
			return folder, true
		}
	}

	// 3. Conventional development roots holding a same-named project dir
	for _, root := range defaultDevRoots {
		candidate := filepath.Join(r.homeDir, root, name)
		info, err := os.Stat(candidate)
		if err != nil || !info.IsDir() {
			continue
		}
		if hasProjectMarker(candidate) {
			return candidate, true
		}
	}

	return "", false
}

// ResolveFromPath infers workspace identity from a transcript's location
// inside the storage root: {storageRoot}/{slot}/chatSessions/{file}.
func (r *Resolver) ResolveFromPath(filePath string) (string, string) {
	chatDir := filepath.Dir(filePath)
	slotDir := filepath.Dir(chatDir)
	return r.Resolve(slotDir, filepath.Base(slotDir))
}

// readDescriptor parses the slot's workspace.json and converts its folder
// URI to a filesystem path.
func (r *Resolver) readDescriptor(slotDir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(slotDir, descriptorFile))
	if err != nil {
		return "", false
	}

	var descriptor struct {
		Folder string `json:"folder"`
	}
	if err := json.Unmarshal(data, &descriptor); err != nil {
		log.Debug().Err(err).Str("slotDir", slotDir).Msg("unparseable workspace descriptor")
		return "", false
	}
	if descriptor.Folder == "" {
		return "", false
	}

	path, err := folderURIToPath(descriptor.Folder)
	if err != nil {
		// The URI still carries a folder name; try the remaining strategies
		// with that name before giving up.
		name := filepath.Base(strings.TrimSuffix(descriptor.Folder, "/"))
		if resolved, ok := r.ResolveName(name); ok {
			return resolved, true
		}
		log.Debug().Err(err).Str("uri", descriptor.Folder).Msg("unresolvable workspace folder URI")
		return "", false
	}
	return path, true
}

// folderURIToPath converts a file:// URI to a local filesystem path.
func folderURIToPath(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("unsupported folder URI scheme %q", parsed.Scheme)
	}
	path, err := url.PathUnescape(parsed.Path)
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(path), nil
}

func hasProjectMarker(dir string) bool {
	for _, marker := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// opaqueLabel truncates a slot id to a short recognizable label.
func opaqueLabel(slotID string) string {
	if len(slotID) > 8 {
		return slotID[:8]
	}
	return slotID
}

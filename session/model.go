package session

import (
	"sort"
	"strings"
	"time"
)

// ChatSession is lightweight metadata derived from a transcript file on disk.
// It is never mutated in place: every rescan rebuilds it from the source file.
type ChatSession struct {
	ID            string    `json:"id"`
	CustomTitle   string    `json:"customTitle,omitempty"`
	WorkspaceName string    `json:"workspaceName"`
	WorkspacePath string    `json:"workspacePath,omitempty"`
	LastModified  time.Time `json:"lastModified"`
	FilePath      string    `json:"filePath"`
	StorageRoot   string    `json:"storageRoot"`
	MessageCount  int       `json:"messageCount"`
}

// DisplayTitle returns the label shown in listings.
// Priority: CustomTitle > "Untitled"
func (s *ChatSession) DisplayTitle() string {
	if s.CustomTitle != "" {
		return s.CustomTitle
	}
	return "Untitled"
}

// WorkspaceGroup aggregates sessions belonging to one workspace. Groups are a
// view-time projection and are recomputed on every listing, never persisted.
type WorkspaceGroup struct {
	Name     string         `json:"name"`
	Path     string         `json:"path,omitempty"`
	Sessions []*ChatSession `json:"sessions"`
}

// GroupByWorkspace projects a flat session list into workspace groups.
// Groups are sorted by name; sessions within a group newest-first.
func GroupByWorkspace(sessions []*ChatSession) []*WorkspaceGroup {
	byName := make(map[string]*WorkspaceGroup)
	for _, s := range sessions {
		group, ok := byName[s.WorkspaceName]
		if !ok {
			group = &WorkspaceGroup{Name: s.WorkspaceName}
			byName[s.WorkspaceName] = group
		}
		if group.Path == "" && s.WorkspacePath != "" {
			group.Path = s.WorkspacePath
		}
		group.Sessions = append(group.Sessions, s)
	}

	groups := make([]*WorkspaceGroup, 0, len(byName))
	for _, group := range byName {
		sort.Slice(group.Sessions, func(i, j int) bool {
			a, b := group.Sessions[i], group.Sessions[j]
			if a.LastModified.Equal(b.LastModified) {
				return a.ID < b.ID
			}
			return a.LastModified.After(b.LastModified)
		})
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Name) < strings.ToLower(groups[j].Name)
	})
	return groups
}

// NodeKind discriminates listing tree nodes. A node is exactly one of a
// workspace group, a session, or a sentinel placeholder (loading row,
// empty-state row), never a structural guess.
type NodeKind string

const (
	KindGroup       NodeKind = "group"
	KindSession     NodeKind = "session"
	KindPlaceholder NodeKind = "placeholder"
)

// TreeNode is the tagged variant served to the host UI's tree provider.
type TreeNode struct {
	Kind    NodeKind     `json:"kind"`
	Label   string       `json:"label"`
	Group   *GroupInfo   `json:"group,omitempty"`
	Session *ChatSession `json:"session,omitempty"`
}

// GroupInfo is the group payload carried by a KindGroup node.
type GroupInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path,omitempty"`
	SessionCount int    `json:"sessionCount"`
}

// TreeNodes flattens workspace groups into tagged nodes: one group node
// followed by its session nodes.
func TreeNodes(groups []*WorkspaceGroup) []TreeNode {
	if len(groups) == 0 {
		return []TreeNode{{Kind: KindPlaceholder, Label: "No chat sessions found"}}
	}

	nodes := make([]TreeNode, 0, len(groups)*4)
	for _, group := range groups {
		nodes = append(nodes, TreeNode{
			Kind:  KindGroup,
			Label: group.Name,
			Group: &GroupInfo{
				Name:         group.Name,
				Path:         group.Path,
				SessionCount: len(group.Sessions),
			},
		})
		for _, s := range group.Sessions {
			nodes = append(nodes, TreeNode{
				Kind:    KindSession,
				Label:   s.DisplayTitle(),
				Session: s,
			})
		}
	}
	return nodes
}

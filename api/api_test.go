package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatkeeper/chatkeeper/archive"
	"github.com/chatkeeper/chatkeeper/election"
	"github.com/chatkeeper/chatkeeper/notifications"
	"github.com/chatkeeper/chatkeeper/session"
	"github.com/chatkeeper/chatkeeper/state"
)

type testBackend struct {
	router *gin.Engine
	root   string
	store  *session.Store
}

func newTestBackend(t *testing.T) *testBackend {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	gin.SetMode(gin.TestMode)

	db, err := state.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("open state db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	notif := notifications.NewService()
	t.Cleanup(notif.Close)

	root := t.TempDir()
	store := session.NewStore(session.NewScanner(root, session.NewResolver(nil)), db, notif)
	engine := archive.NewEngine(store, t.TempDir(), archive.NewSkipList(db, 10*time.Minute), notif)
	elector := election.NewElector(election.NewLockStore(filepath.Join(t.TempDir(), "m.lock")), election.Config{Enabled: false})
	elector.Start()
	t.Cleanup(elector.Stop)

	router := gin.New()
	SetupRoutes(router, NewHandlers(store, engine, elector, db, notif))

	return &testBackend{router: router, root: root, store: store}
}

func (tb *testBackend) addSession(t *testing.T, slot, id, text string) {
	t.Helper()
	chatDir := filepath.Join(tb.root, slot, session.ChatSessionsDir)
	if err := os.MkdirAll(chatDir, 0755); err != nil {
		t.Fatal(err)
	}
	content := fmt.Sprintf(`{"version":1,"requests":[{"message":{"text":%q},"response":{}}]}`, text)
	if err := os.WriteFile(filepath.Join(chatDir, id+session.TranscriptExt), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := tb.store.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func (tb *testBackend) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	tb.router.ServeHTTP(w, req)
	return w
}

func TestGetSessionsReturnsTreeNodes(t *testing.T) {
	tb := newTestBackend(t)
	tb.addSession(t, "slot", "s1", "hello there")

	w := tb.do(t, "GET", "/api/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ListResponse[session.TreeNode]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d nodes, want group + session", len(resp.Data))
	}
	if resp.Data[0].Kind != session.KindGroup || resp.Data[1].Kind != session.KindSession {
		t.Errorf("node kinds = %q, %q", resp.Data[0].Kind, resp.Data[1].Kind)
	}
}

func TestGetSessionsEmptyReturnsPlaceholder(t *testing.T) {
	tb := newTestBackend(t)

	w := tb.do(t, "GET", "/api/sessions", "")
	var resp ListResponse[session.TreeNode]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Kind != session.KindPlaceholder {
		t.Errorf("nodes = %+v", resp.Data)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	tb := newTestBackend(t)

	w := tb.do(t, "GET", "/api/sessions/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != ErrCodeNotFound {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestArchiveAndRestoreOverHTTP(t *testing.T) {
	tb := newTestBackend(t)
	tb.addSession(t, "slot", "s1", "hello")

	w := tb.do(t, "POST", "/api/sessions/s1/archive", "")
	if w.Code != http.StatusOK {
		t.Fatalf("archive status = %d, body = %s", w.Code, w.Body.String())
	}

	// Session left the live listing
	if w := tb.do(t, "GET", "/api/sessions/s1", ""); w.Code != http.StatusNotFound {
		t.Errorf("archived session still listed, status = %d", w.Code)
	}

	// It shows up in the archive listing
	w = tb.do(t, "GET", "/api/archive", "")
	var list ListResponse[archive.Entry]
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0].SessionID != "s1" {
		t.Fatalf("archive list = %+v", list.Data)
	}

	w = tb.do(t, "POST", "/api/sessions/s1/restore", "")
	if w.Code != http.StatusOK {
		t.Fatalf("restore status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := tb.do(t, "GET", "/api/sessions/s1", ""); w.Code != http.StatusOK {
		t.Errorf("restored session missing, status = %d", w.Code)
	}
}

func TestArchiveAlreadyArchivedIsConflict(t *testing.T) {
	tb := newTestBackend(t)
	tb.addSession(t, "slot", "s1", "hello")

	if w := tb.do(t, "POST", "/api/sessions/s1/archive", ""); w.Code != http.StatusOK {
		t.Fatalf("archive status = %d, body = %s", w.Code, w.Body.String())
	}

	w := tb.do(t, "POST", "/api/sessions/s1/archive", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second archive status = %d, want 409", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error.Code != ErrCodeConflict {
		t.Errorf("code = %q, want %q", resp.Error.Code, ErrCodeConflict)
	}
}

func TestStatusReportsSkipListedSessions(t *testing.T) {
	tb := newTestBackend(t)
	tb.addSession(t, "slot", "s1", "hello")

	tb.do(t, "POST", "/api/sessions/s1/archive", "")
	tb.do(t, "POST", "/api/sessions/s1/restore", "")

	w := tb.do(t, "GET", "/api/status", "")
	var resp DataResponse[StatusResponse]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data.SkipListed) != 1 || resp.Data.SkipListed[0] != "s1" {
		t.Errorf("SkipListed = %v, want [s1]", resp.Data.SkipListed)
	}
}

func TestArchiveSelectedValidatesBody(t *testing.T) {
	tb := newTestBackend(t)

	w := tb.do(t, "POST", "/api/sessions/archive-selected", `{"sessionIds": []}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestStatusReportsLeadership(t *testing.T) {
	tb := newTestBackend(t)

	w := tb.do(t, "GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp DataResponse[StatusResponse]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Data.Leader {
		t.Error("single-instance backend should report leadership")
	}
	if resp.Data.InstanceID == "" {
		t.Error("instance id missing")
	}
}

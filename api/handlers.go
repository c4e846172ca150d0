package api

import (
	"github.com/chatkeeper/chatkeeper/archive"
	"github.com/chatkeeper/chatkeeper/election"
	"github.com/chatkeeper/chatkeeper/notifications"
	"github.com/chatkeeper/chatkeeper/session"
	"github.com/chatkeeper/chatkeeper/state"
)

// Handlers holds references to the backend components the endpoints operate
// on.
type Handlers struct {
	store   *session.Store
	engine  *archive.Engine
	elector *election.Elector
	db      *state.DB
	notif   *notifications.Service
}

// NewHandlers creates a Handlers instance wired to the given components.
func NewHandlers(store *session.Store, engine *archive.Engine, elector *election.Elector, db *state.DB, notif *notifications.Service) *Handlers {
	return &Handlers{
		store:   store,
		engine:  engine,
		elector: elector,
		db:      db,
		notif:   notif,
	}
}

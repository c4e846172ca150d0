package notifications

import (
	"sync"
	"time"
)

// EventType represents the type of notification event
type EventType string

const (
	EventConnected         EventType = "connected"
	EventSessionsChanged   EventType = "sessions-changed"
	EventScanProgress      EventType = "scan-progress"
	EventArchiveChanged    EventType = "archive-changed"
	EventOperationProgress EventType = "operation-progress"
	EventLeadershipChanged EventType = "leadership-changed"
	EventResolutionFailure EventType = "resolution-failure"
)

// Event represents a notification event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Tag       string    `json:"tag,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// failureDedupeWindow is how long identical resolution failures (same tag)
// are suppressed before being surfaced again.
const failureDedupeWindow = 30 * time.Second

// Service manages SSE subscriptions and event broadcasting
type Service struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	failureMu    sync.Mutex
	lastFailures map[string]time.Time
}

// NewService creates a new notification service
func NewService() *Service {
	return &Service{
		subscribers:  make(map[chan Event]struct{}),
		lastFailures: make(map[string]time.Time),
	}
}

// Subscribe creates a new subscription channel.
// Returns the event channel and an unsubscribe function.
func (s *Service) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		// Only close if the channel is still in subscribers map
		if _, exists := s.subscribers[ch]; exists {
			delete(s.subscribers, ch)
			close(ch)
		}
	}

	return ch, unsubscribe
}

// Notify broadcasts an event to all subscribers
func (s *Service) Notify(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// NotifySessionsChanged signals that the session set changed and listings
// should refresh.
func (s *Service) NotifySessionsChanged() {
	s.Notify(Event{Type: EventSessionsChanged})
}

// NotifyScanProgress reports incremental scan progress.
func (s *Service) NotifyScanProgress(message string, percent int) {
	s.Notify(Event{
		Type:    EventScanProgress,
		Message: message,
		Data:    map[string]int{"percent": percent},
	})
}

// NotifyArchiveChanged signals that the quarantine contents changed.
func (s *Service) NotifyArchiveChanged() {
	s.Notify(Event{Type: EventArchiveChanged})
}

// NotifyOperationProgress reports per-item progress of a bulk operation.
func (s *Service) NotifyOperationProgress(operation, message string, percent int) {
	s.Notify(Event{
		Type:    EventOperationProgress,
		Message: message,
		Data:    map[string]any{"operation": operation, "percent": percent},
	})
}

// NotifyLeadershipChanged signals that this process gained or lost the
// maintenance leader role.
func (s *Service) NotifyLeadershipChanged(isLeader bool) {
	s.Notify(Event{
		Type: EventLeadershipChanged,
		Data: map[string]bool{"isLeader": isLeader},
	})
}

// NotifyResolutionFailure surfaces a resolution failure through a
// de-duplicating channel keyed by context tag: repeated identical failures
// within the dedupe window are dropped instead of spamming the user.
func (s *Service) NotifyResolutionFailure(tag, message string) {
	now := time.Now()

	s.failureMu.Lock()
	if last, seen := s.lastFailures[tag]; seen && now.Sub(last) < failureDedupeWindow {
		s.failureMu.Unlock()
		return
	}
	s.lastFailures[tag] = now
	s.failureMu.Unlock()

	s.Notify(Event{
		Type:    EventResolutionFailure,
		Tag:     tag,
		Message: message,
	})
}

// Close closes all subscriber channels.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[chan Event]struct{})
}

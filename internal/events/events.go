// Package events provides the in-process event stream that correlates
// control-plane activity by service name and request ID. It is the
// observability seam between the lifecycle machinery and the control API;
// long-term audit persistence lives outside this process.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the severity of an event.
type EventType string

const (
	// EventTypeNormal indicates normal, non-problematic events.
	EventTypeNormal EventType = "Normal"

	// EventTypeWarning indicates events that may require attention.
	EventTypeWarning EventType = "Warning"
)

// EventReason represents the reason code for an event.
type EventReason string

const (
	// Service lifecycle reasons.
	ReasonServiceStarting     EventReason = "ServiceStarting"
	ReasonServiceStarted      EventReason = "ServiceStarted"
	ReasonServiceSleeping     EventReason = "ServiceSleeping"
	ReasonServiceSlept        EventReason = "ServiceSlept"
	ReasonServiceWaking       EventReason = "ServiceWaking"
	ReasonServiceWoken        EventReason = "ServiceWoken"
	ReasonServiceStopped      EventReason = "ServiceStopped"
	ReasonServiceFailed       EventReason = "ServiceFailed"
	ReasonServiceReset        EventReason = "ServiceReset"
	ReasonServiceSleepTooSoon EventReason = "ServiceSleepTooSoon"

	// Catalog reasons.
	ReasonToolsDiscovered    EventReason = "ToolsDiscovered"
	ReasonToolsRefreshFailed EventReason = "ToolsRefreshFailed"

	// Router reasons.
	ReasonTaskRouted      EventReason = "TaskRouted"
	ReasonTaskFallback    EventReason = "TaskFallback"
	ReasonTaskExhausted   EventReason = "TaskExhausted"
	ReasonScoringDegraded EventReason = "ScoringDegraded"

	// Config reasons.
	ReasonConfigReloaded     EventReason = "ConfigReloaded"
	ReasonConfigReloadFailed EventReason = "ConfigReloadFailed"
)

// warningReasons maps failure reasons to the warning type.
var warningReasons = map[EventReason]bool{
	ReasonServiceFailed:      true,
	ReasonToolsRefreshFailed: true,
	ReasonTaskExhausted:      true,
	ReasonScoringDegraded:    true,
	ReasonConfigReloadFailed: true,
}

// Event is one entry of the control-plane event stream.
type Event struct {
	ID        string      `json:"id"`
	Time      time.Time   `json:"time"`
	Type      EventType   `json:"type"`
	Reason    EventReason `json:"reason"`
	Service   string      `json:"service,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
	Message   string      `json:"message"`
}

// Recorder keeps a bounded in-memory window of recent events. Writes never
// block and never fail; when the window is full the oldest entry is dropped.
type Recorder struct {
	mu     sync.RWMutex
	buf    []Event
	next   int
	filled bool
}

// NewRecorder creates a recorder with the given window capacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{buf: make([]Event, capacity)}
}

// Record appends an event to the stream.
func (r *Recorder) Record(reason EventReason, service, requestID, message string) {
	eventType := EventTypeNormal
	if warningReasons[reason] {
		eventType = EventTypeWarning
	}

	event := Event{
		ID:        uuid.NewString(),
		Time:      time.Now(),
		Type:      eventType,
		Reason:    reason,
		Service:   service,
		RequestID: requestID,
		Message:   message,
	}

	r.mu.Lock()
	r.buf[r.next] = event
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
	r.mu.Unlock()
}

// Recent returns events in chronological order, optionally filtered by
// service name and/or request ID. Empty filters match everything.
func (r *Recorder) Recent(service, requestID string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ordered []Event
	if r.filled {
		ordered = append(ordered, r.buf[r.next:]...)
	}
	ordered = append(ordered, r.buf[:r.next]...)

	result := make([]Event, 0, len(ordered))
	for _, e := range ordered {
		if service != "" && e.Service != service {
			continue
		}
		if requestID != "" && e.RequestID != requestID {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Package event provides a per-session event emitter. Each editing session
// owns its own Emitter; there is no process-global bus, so two open documents
// never observe each other's notifications.
package event

import "sync"

// Topic names a class of session events.
type Topic string

const (
	TopicDocumentChanged Topic = "document.changed"
	TopicAnalysisStarted Topic = "analysis.started"
	TopicAnalysisDone    Topic = "analysis.done"
	TopicSaveStateChange Topic = "save.state"
	TopicSnapshotCreated Topic = "snapshot.created"
	TopicIssueResolved   Topic = "issue.resolved"
)

// Handler receives the payload published with Emit. Handlers run on the
// emitting goroutine and must not block.
type Handler func(payload any)

// Emitter is a minimal synchronous publish/subscribe hub.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Topic][]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[Topic][]Handler)}
}

// On registers a handler for a topic. Handlers cannot be removed; an Emitter
// lives exactly as long as its session.
func (e *Emitter) On(topic Topic, h Handler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.handlers[topic] = append(e.handlers[topic], h)
	e.mu.Unlock()
}

// Emit delivers the payload to every handler registered for the topic, in
// registration order.
func (e *Emitter) Emit(topic Topic, payload any) {
	e.mu.RLock()
	hs := e.handlers[topic]
	e.mu.RUnlock()
	for _, h := range hs {
		h(payload)
	}
}

// HandlerCount reports how many handlers are registered for a topic.
func (e *Emitter) HandlerCount(topic Topic) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[topic])
}

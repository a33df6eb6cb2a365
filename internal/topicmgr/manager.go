// Package topicmgr keeps the catalogue of event bus topics so that producers,
// consumers and the CLI agree on names and payloads.
package topicmgr

import (
	"sort"
	"sync"
)

// Manager is a concurrency safe topic catalogue.
type Manager struct {
	mu     sync.RWMutex
	topics map[string]Topic
}

// NewManager creates an empty catalogue.
func NewManager() *Manager {
	return &Manager{topics: make(map[string]Topic)}
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process wide catalogue.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = NewManager()
	})
	return defaultManager
}

// Register validates topic and adds it. Registering the very same topic value
// twice is a no-op; a different topic with a taken name is an error.
func (m *Manager) Register(topic Topic) error {
	if err := validateDefinition(topic); err != nil {
		name := ""
		if topic != nil {
			name = topic.Name()
		}
		return &TopicError{Type: ErrorValidationFailed, Topic: name, Message: "topic validation failed", Cause: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.topics[topic.Name()]; ok {
		if existing == topic {
			return nil
		}
		return &TopicError{Type: ErrorDuplicateRegistration, Topic: topic.Name(), Message: "topic " + topic.Name() + " already registered"}
	}
	m.topics[topic.Name()] = topic
	return nil
}

// MustRegister registers all topics and panics on the first error. It is
// meant for package level topic definitions.
func (m *Manager) MustRegister(topics ...Topic) {
	for _, t := range topics {
		if err := m.Register(t); err != nil {
			panic("failed to register topic: " + err.Error())
		}
	}
}

// Get looks a topic up by name.
func (m *Manager) Get(name string) (Topic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[name]
	return t, ok
}

// List returns every topic sorted by name.
func (m *Manager) List() []Topic {
	m.mu.RLock()
	out := make([]Topic, 0, len(m.topics))
	for _, t := range m.topics {
		out = append(out, t)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ListByScope filters List by scope.
func (m *Manager) ListByScope(scope TopicScope) []Topic {
	var out []Topic
	for _, t := range m.List() {
		if t.Scope() == scope {
			out = append(out, t)
		}
	}
	return out
}

package topicmgr

// Topic is a named channel on the event bus together with its documentation.
type Topic interface {
	// Name returns the unique string identifier for this topic.
	Name() string
	// Module returns the owning module (empty for framework topics).
	Module() string
	Description() string
	// Example returns a sample JSON payload.
	Example() string
	Scope() TopicScope
}

// TopicScope tells framework topics (presence, sessions, delivery) apart
// from module topics (chat).
type TopicScope string

const (
	ScopeFramework TopicScope = "framework"
	ScopeModule    TopicScope = "module"
)

// TopicConfig holds configuration for creating a new topic.
type TopicConfig struct {
	Name        string     `json:"name"`
	Module      string     `json:"module"`
	Scope       TopicScope `json:"scope"`
	Description string     `json:"description"`
	Example     string     `json:"example"`
}

// TypedTopic is the concrete Topic produced by DefineFramework and DefineModule.
type TypedTopic struct {
	cfg TopicConfig
}

var _ Topic = (*TypedTopic)(nil)

func (t *TypedTopic) Name() string        { return t.cfg.Name }
func (t *TypedTopic) Module() string      { return t.cfg.Module }
func (t *TypedTopic) Description() string { return t.cfg.Description }
func (t *TypedTopic) Example() string     { return t.cfg.Example }
func (t *TypedTopic) Scope() TopicScope   { return t.cfg.Scope }
func (t *TypedTopic) String() string      { return t.cfg.Name }

// DefineFramework creates a framework topic.
func DefineFramework(cfg TopicConfig) Topic {
	cfg.Scope = ScopeFramework
	cfg.Module = ""
	return &TypedTopic{cfg: cfg}
}

// DefineModule creates a topic owned by cfg.Module.
func DefineModule(cfg TopicConfig) Topic {
	cfg.Scope = ScopeModule
	return &TypedTopic{cfg: cfg}
}

// ErrorType classifies a TopicError.
type ErrorType string

const (
	ErrorDuplicateRegistration ErrorType = "duplicate_registration"
	ErrorValidationFailed      ErrorType = "validation_failed"
)

// TopicError represents structured errors in the topic management system.
type TopicError struct {
	Type    ErrorType `json:"type"`
	Topic   string    `json:"topic"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

func (e *TopicError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TopicError) Unwrap() error {
	return e.Cause
}

package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Evaluation events
	EventEvaluationCompleted EventType = "evaluation.completed"
	EventEvaluationFailed    EventType = "evaluation.failed"

	// Alert lifecycle events
	EventAlertCreated   EventType = "alert.created"
	EventAlertRead      EventType = "alert.read"
	EventAlertDismissed EventType = "alert.dismissed"
	EventAlertRouted    EventType = "alert.routed"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultSkipped Result = "skipped"
)

// Event represents a single audit event
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Subject of the event
	EntityRef string `json:"entity_ref,omitempty"`
	AlertID   string `json:"alert_id,omitempty"`
	Trigger   string `json:"trigger,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]any),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithEntity sets the monitored entity the event concerns
func (e *Event) WithEntity(ref string) *Event {
	e.EntityRef = ref
	return e
}

// WithAlert sets the alert the event concerns
func (e *Event) WithAlert(id string) *Event {
	e.AlertID = id
	return e
}

func (e *Event) WithTrigger(trigger string) *Event {
	e.Trigger = trigger
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError records err and marks the event failed. A nil err is ignored.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithDuration(duration time.Duration) *Event {
	e.DurationMs = duration.Milliseconds()
	return e
}

func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}

package tracing

// Span attribute keys.
const (
	AttrAgentID       = "agent.id"
	AttrCorrelationID = "correlation.id"
	AttrWindowState   = "window.state"
	AttrWindowElement = "window.element"
	AttrPromptChars   = "prompt.chars"
	AttrContentChars  = "content.chars"
	AttrAttempt       = "retry.attempt"
	AttrRetryDelayMs  = "retry.delay_ms"

	AttrTaskID       = "task.id"
	AttrTaskPriority = "task.priority"
	AttrTaskStatus   = "task.status"
	AttrClaimed      = "task.claimed"

	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span names.
const (
	SpanWindowInject   = SpanPrefixWindow + "inject"
	SpanWindowRetrieve = SpanPrefixWindow + "retrieve"
	SpanWindowHealth   = SpanPrefixWindow + "health"
	SpanTaskClaim      = SpanPrefixTasks + "claim"
	SpanTaskComplete   = SpanPrefixTasks + "complete"
	SpanTaskFail       = SpanPrefixTasks + "fail"
	SpanPoolExchange   = SpanPrefixPool + "exchange"
)

// Span name prefixes.
const (
	SpanPrefixWindow = "window."
	SpanPrefixTasks  = "tasks."
	SpanPrefixPool   = "pool."
)

// Event names for span events.
const (
	EventStateChanged     = "state.changed"
	EventRetryScheduled   = "retry.scheduled"
	EventFocusRecovered   = "focus.recovered"
	EventClipboardChanged = "clipboard.changed"
	EventPublished        = "event.published"
	EventTaskClaimed      = "task.claimed"
)

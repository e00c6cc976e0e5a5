package events

// Topics published by the window orchestrator, the readiness watcher and the worker pool.
const (
	TopicInjectRequest      = "cursor.inject.request"
	TopicInjectSuccess      = "cursor.inject.success"
	TopicInjectFailure      = "cursor.inject.failure"
	TopicRetrieveRequest    = "cursor.retrieve.request"
	TopicRetrieveSuccess    = "cursor.retrieve.success"
	TopicRetrieveFailure    = "cursor.retrieve.failure"
	TopicWindowUnresponsive = "cursor.window.unresponsive"
	TopicWindowHealth       = "cursor.window.health"
	TopicWindowState        = "cursor.window.state"

	TopicWorkerStatus = "pool.worker.status"
)

// Patterns for subscribers that want a whole family.
const (
	PatternCursor   = "cursor.*"
	PatternInject   = "cursor.inject.*"
	PatternRetrieve = "cursor.retrieve.*"
	PatternPool     = "pool.*"
)

// InjectOutcomeTopics are the terminal topics of an injection.
var InjectOutcomeTopics = []string{TopicInjectSuccess, TopicInjectFailure}

// RetrieveOutcomeTopics are the terminal topics of a retrieval.
var RetrieveOutcomeTopics = []string{TopicRetrieveSuccess, TopicRetrieveFailure}

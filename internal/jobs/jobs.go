// Package jobs implements the background job queue used for derived-state
// maintenance. Jobs are rows in the jobs table; a Runner claims and executes them.
package jobs

// Job names enqueued by the pipeline
const (
	UpdateReferences          = "update-references"
	UpdateInteractions        = "update-interactions"
	UpdateEditedFlags         = "update-edited-flags"
	UpdateTopicCurrentVersion = "update-topic-current-version"
	UpdateEngagement          = "update-engagement"
	CreateNotifications       = "create-notifications"
	SyncReferencedRecords     = "sync-referenced-records"
)

// Priorities, higher runs first
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// URIsPayload is the payload of jobs scoped to a set of record URIs
type URIsPayload struct {
	URIs []string `json:"uris"`
}

// TopicsPayload is the payload of jobs scoped to a set of topics
type TopicsPayload struct {
	TopicIDs []string `json:"topic_ids"`
}

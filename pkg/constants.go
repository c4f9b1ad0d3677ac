package shared

const (
	ProjectID = "stridecast-project" // Can be overridden by env var in main if needed

	TopicVideoEvents = "topic-video-events"
	TopicSyncEvents  = "topic-sync-events"

	CollectionUsers  = "users"
	CollectionRuns   = "runs"
	CollectionVideos = "videos"
)

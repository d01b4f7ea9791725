package connectors

const (
	TopicConnStatus = "conn.status"
	TopicNotice     = "notice"
	TopicLogMessage = "log.message"
)

package config

import "time"

const (
	DefaultCozeAPIURL = "https://api.coze.cn/v3/chat"

	// Conversation windows
	CoachHistoryWindow  = 5
	LoungeHistoryWindow = 10
	LoungeAIBatch       = 10

	// Upstream
	UpstreamTimeout    = 60 * time.Second
	StreamSaveInterval = 2 * time.Second

	// Binding
	UnbindCoolDown     = 30 * 24 * time.Hour
	UnbindSweepPeriod  = time.Hour
	BindingCodeBytes   = 3
	BindingCodeRetries = 5

	// Greetings per context in the message catalog
	GreetingVariants = 3

	// HTTP
	ServerReadTimeout = 10 * time.Second
	ServerIdleTimeout = 120 * time.Second
	SessionCookieName = "session_id"
)

// AITriggers mark a lounge message as a request for the assistant.
var AITriggers = []string{"@AI", "@ai", "@教练"}

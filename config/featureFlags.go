package config

import (
	"os"
	"strings"
)

// OutboxDispatcherEnabled controls whether this process drains the mirror outbox.
// Defaults to on; set OUTBOX_DISPATCHER=false on replicas that should only serve requests.
func OutboxDispatcherEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DISPATCHER")))
	return v != "false" && v != "0" && v != "no"
}

// ParticipantCacheEnabled turns on the Redis read-through cache for participant reads.
//
// Set via env:
// - PARTICIPANT_CACHE=false to disable
func ParticipantCacheEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("PARTICIPANT_CACHE")))
	return v != "false" && v != "0"
}

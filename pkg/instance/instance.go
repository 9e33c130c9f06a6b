package instance

import (
	"os"
	"strings"
)

// GetID names this process in logs. Set REWARDS_INSTANCE_ID per replica;
// DYNO covers Heroku-style hosts.
func GetID(fallback string) string {
	for _, key := range []string{"REWARDS_INSTANCE_ID", "DYNO"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	return fallback
}

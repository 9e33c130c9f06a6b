package enums

import "fmt"

// ActivityStatus maps to the reward_activity_status enum in Postgres.
type ActivityStatus string

const (
	ActivityStatusPending  ActivityStatus = "pending"
	ActivityStatusApproved ActivityStatus = "approved"
	ActivityStatusRejected ActivityStatus = "rejected"
)

var validActivityStatuses = []ActivityStatus{
	ActivityStatusPending,
	ActivityStatusApproved,
	ActivityStatusRejected,
}

func (s ActivityStatus) IsValid() bool {
	for _, candidate := range validActivityStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseActivityStatus(value string) (ActivityStatus, error) {
	for _, candidate := range validActivityStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activity status %q", value)
}

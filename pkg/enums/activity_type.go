package enums

import "fmt"

// ActivityType maps to the reward_activity_type enum in Postgres.
type ActivityType string

const (
	ActivityTypeDonate ActivityType = "donate"
	ActivityTypeRedeem ActivityType = "redeem"
)

var validActivityTypes = []ActivityType{
	ActivityTypeDonate,
	ActivityTypeRedeem,
}

// IsValid reports whether the value matches the canonical activity type enum.
func (t ActivityType) IsValid() bool {
	for _, candidate := range validActivityTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseActivityType converts raw input into ActivityType.
func ParseActivityType(value string) (ActivityType, error) {
	for _, candidate := range validActivityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activity type %q", value)
}

package enums

import "fmt"

// DonationStatus tracks the review lifecycle of a submitted donation.
type DonationStatus string

const (
	DonationStatusPending  DonationStatus = "pending"
	DonationStatusApproved DonationStatus = "approved"
	DonationStatusRejected DonationStatus = "rejected"
)

var validDonationStatuses = []DonationStatus{
	DonationStatusPending,
	DonationStatusApproved,
	DonationStatusRejected,
}

// String implements fmt.Stringer.
func (s DonationStatus) String() string {
	return string(s)
}

func (s DonationStatus) IsValid() bool {
	for _, candidate := range validDonationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a donation in this status has already been reviewed.
func (s DonationStatus) IsTerminal() bool {
	return s == DonationStatusApproved || s == DonationStatusRejected
}

// ParseDonationStatus converts raw input into DonationStatus.
func ParseDonationStatus(value string) (DonationStatus, error) {
	for _, candidate := range validDonationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid donation status %q", value)
}

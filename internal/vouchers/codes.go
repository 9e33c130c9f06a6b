package vouchers

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// GeneratedCodeLength is the length of codes minted when an admin leaves
	// the code blank.
	GeneratedCodeLength = 8
	// Crockford base32: no I, L, O or U. 32 divides 256, so byte%32 is uniform.
	codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

	dateLayout = "2006-01-02"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{3,32}$`)

// NormalizeCode trims and upper-cases a supplied code and checks its shape.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !codePattern.MatchString(code) {
		return "", fmt.Errorf("code must be 3-32 letters or digits")
	}
	return code, nil
}

// GenerateCode returns a random code drawn from codeAlphabet.
func GenerateCode() (string, error) {
	buf := make([]byte, GeneratedCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// ParseExpiry accepts a calendar date or an RFC3339 instant. A date is valid
// for the whole UTC day, so it expires at the following midnight.
func ParseExpiry(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("expiry is required")
	}
	if day, err := time.Parse(dateLayout, value); err == nil {
		return day.UTC().AddDate(0, 0, 1), nil
	}
	instant, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry must be YYYY-MM-DD or RFC3339")
	}
	return instant.UTC(), nil
}

// IsExpired reports whether a voucher expiring at expiresAt is unusable at
// now. The expiry instant itself is already past.
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

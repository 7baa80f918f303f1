package provider

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	appErrors "github.com/unclebandit/campaign-engine/internal/errors"
)

// DefaultRegion applies to numbers stored without a country code.
const DefaultRegion = "US"

// Normalize parses a stored or caller-supplied number into E.164.
func Normalize(num string) (string, error) {
	num = strings.TrimSpace(num)
	if num == "" {
		return "", appErrors.NewValidationError("recipient", "missing phone number")
	}
	parsed, err := phonenumbers.Parse(num, DefaultRegion)
	if err != nil || !phonenumbers.IsPossibleNumber(parsed) {
		return "", appErrors.NewValidationError("recipient", "invalid phone number "+num)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// Digits strips everything but digits, the shape the form API expects.
func Digits(num string) string {
	var b strings.Builder
	for _, r := range num {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

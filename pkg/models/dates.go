package models

import (
	"fmt"
	"time"
)

// Contract dates arrive either as US-style MM/DD/YYYY (extraction output)
// or ISO YYYY-MM-DD (edited form input). Both are accepted everywhere a
// contract date is parsed.
var contractDateLayouts = []string{"01/02/2006", "2006-01-02"}

// ParseContractDate parses s as a calendar date in MM/DD/YYYY or YYYY-MM-DD
// form. The returned time is midnight UTC of that date.
func ParseContractDate(s string) (time.Time, error) {
	for _, layout := range contractDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected MM/DD/YYYY or YYYY-MM-DD", s)
}

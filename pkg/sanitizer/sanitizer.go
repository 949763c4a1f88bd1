// Package sanitizer normalizes booking input before it is validated.
//
// Every function is idempotent. Input that cannot be normalized is returned
// as given so validation can report it.
package sanitizer

import (
	"strings"
	"unicode"

	"courtslots/pkg/model"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegions are tried in order for numbers written without a country
// code.
var DefaultRegions = []string{"IL", "US"}

type Strategy func(string) string

type Pipeline []Strategy

func (p Pipeline) Apply(s string) string {
	for _, fn := range p {
		s = fn(s)
	}
	return s
}

// TrimAndNormalize trims s and collapses inner whitespace runs to one space.
func TrimAndNormalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}
	return b.String()
}

func NormalizeEmail(email string) string {
	return Pipeline{strings.TrimSpace, strings.ToLower}.Apply(email)
}

// NormalizePhone formats phone as E.164, reading national numbers in the
// first of regions that parses them.
func NormalizePhone(phone string, regions ...string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if len(regions) == 0 {
		regions = DefaultRegions
	}

	for _, region := range regions {
		parsed, err := phonenumbers.Parse(phone, region)
		if err == nil {
			return phonenumbers.Format(parsed, phonenumbers.E164)
		}
	}
	return phone
}

// NormalizeTimeSlot strips all whitespace, so "18:00 - 19:00" becomes
// "18:00-19:00".
func NormalizeTimeSlot(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// NormalizeSlice applies strategy to each value and drops empty results.
// Order is kept and duplicates are not removed, so validation still sees
// them.
func NormalizeSlice(values []string, strategy Strategy) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strategy(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SanitizeBooking normalizes req in place.
func SanitizeBooking(req *model.BookingRequest, regions ...string) {
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Date = strings.TrimSpace(req.Date)
	req.TimeSlots = NormalizeSlice(req.TimeSlots, NormalizeTimeSlot)
	req.ContactInfo.Name = TrimAndNormalize(req.ContactInfo.Name)
	req.ContactInfo.Phone = NormalizePhone(req.ContactInfo.Phone, regions...)
	req.ContactInfo.Email = NormalizeEmail(req.ContactInfo.Email)
	req.Pricing.Currency = strings.ToUpper(strings.TrimSpace(req.Pricing.Currency))
}

// SanitizeCancel normalizes req in place.
func SanitizeCancel(req *model.CancelRequest) {
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Date = strings.TrimSpace(req.Date)
	req.BookingID = strings.TrimSpace(req.BookingID)
	req.TimeSlots = NormalizeSlice(req.TimeSlots, NormalizeTimeSlot)
}

// Package validation holds the input validators used by the checkout flow.
//
// Validators are pure and never fail: each returns a Result describing
// whether the input is acceptable and, if not, a message fit for display.
// They are cheap enough to run on every keystroke.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// Result is the outcome of a single validation.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

var passed = Result{Valid: true}

func fail(msg string) Result {
	return Result{Error: msg}
}

const (
	maxEmailLen    = 254
	minPasswordLen = 6
	maxPasswordLen = 128
	minNameLen     = 2
	maxNameLen     = 50
	minPhoneDigits = 10
	maxPhoneDigits = 15
	minCardDigits  = 13
	maxCardDigits  = 19
	minPromoLen    = 3
	maxPromoLen    = 20
	// maxExpiryMonths bounds how far in the future a card may expire.
	maxExpiryMonths = 10 * 12
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	promoPattern = regexp.MustCompile(`^[A-Z0-9]+$`)
)

// Email checks for a plausible address of at most 254 characters.
func Email(s string) Result {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return fail("Email is required")
	case len(s) > maxEmailLen:
		return fail("Email is too long")
	case !emailPattern.MatchString(s):
		return fail("Please enter a valid email address")
	}
	return passed
}

// Password checks the length bounds only.
func Password(s string) Result {
	n := len([]rune(s))
	switch {
	case n == 0:
		return fail("Password is required")
	case n < minPasswordLen:
		return fail(fmt.Sprintf("Password must be at least %d characters", minPasswordLen))
	case n > maxPasswordLen:
		return fail(fmt.Sprintf("Password must be at most %d characters", maxPasswordLen))
	}
	return passed
}

// StrongPassword additionally requires an upper case letter, a lower case
// letter and a digit.
func StrongPassword(s string) Result {
	if r := Password(s); !r.Valid {
		return r
	}
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return fail("Password must contain upper and lower case letters and a digit")
	}
	return passed
}

// Name accepts 2 to 50 Latin or Arabic letters, spaces, hyphens and
// apostrophes.
func Name(s string) Result {
	s = strings.TrimSpace(s)
	n := len([]rune(s))
	switch {
	case n == 0:
		return fail("Name is required")
	case n < minNameLen:
		return fail(fmt.Sprintf("Name must be at least %d characters", minNameLen))
	case n > maxNameLen:
		return fail(fmt.Sprintf("Name must be at most %d characters", maxNameLen))
	}
	for _, r := range s {
		if !isNameRune(r) {
			return fail("Name may only contain letters, spaces, hyphens and apostrophes")
		}
	}
	return passed
}

func isNameRune(r rune) bool {
	switch r {
	case ' ', '-', '\'':
		return true
	}
	return unicode.IsLetter(r) && (unicode.Is(unicode.Latin, r) || unicode.Is(unicode.Arabic, r))
}

// Phone accepts 10 to 15 digits with an optional leading plus. Spaces,
// dashes, dots and parentheses are ignored.
func Phone(s string) Result {
	s = stripSeparators(strings.TrimSpace(s), " -.()")
	if s == "" {
		return fail("Phone number is required")
	}
	s = strings.TrimPrefix(s, "+")
	if !isDigits(s) {
		return fail("Phone number may only contain digits")
	}
	if len(s) < minPhoneDigits || len(s) > maxPhoneDigits {
		return fail(fmt.Sprintf("Phone number must have %d to %d digits", minPhoneDigits, maxPhoneDigits))
	}
	return passed
}

// CardNumber accepts 13 to 19 digits passing the Luhn checksum. Spaces and
// dashes between digit groups are ignored.
func CardNumber(s string) Result {
	s = NormalizeCardNumber(s)
	switch {
	case s == "":
		return fail("Card number is required")
	case !isDigits(s):
		return fail("Card number may only contain digits")
	case len(s) < minCardDigits || len(s) > maxCardDigits:
		return fail("Card number must have 13 to 19 digits")
	case !Luhn(s):
		return fail("Card number is invalid")
	}
	return passed
}

// NormalizeCardNumber removes group separators from a card number.
func NormalizeCardNumber(s string) string {
	return stripSeparators(strings.TrimSpace(s), " -")
}

// Luhn reports whether digits passes the Luhn checksum. Non-digit input
// fails.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// Expiry checks a card expiry month and year against now. Two digit years
// are taken to be in the 2000s. The card is valid through the end of its
// expiry month and may not expire more than ten years ahead.
func Expiry(month, year int, now time.Time) Result {
	if month < 1 || month > 12 {
		return fail("Expiry month must be between 1 and 12")
	}
	if year >= 0 && year < 100 {
		year += 2000
	}
	ahead := (year-now.Year())*12 + month - int(now.Month())
	switch {
	case ahead < 0:
		return fail("Card has expired")
	case ahead > maxExpiryMonths:
		return fail("Expiry date is too far in the future")
	}
	return passed
}

// CVV checks the security code length for the card family: four digits for
// 15 digit numbers, three otherwise.
func CVV(cvv, cardNumber string) Result {
	cvv = strings.TrimSpace(cvv)
	if cvv == "" {
		return fail("Security code is required")
	}
	if !isDigits(cvv) {
		return fail("Security code may only contain digits")
	}
	want := 3
	if len(NormalizeCardNumber(cardNumber)) == 15 {
		want = 4
	}
	if len(cvv) != want {
		return fail(fmt.Sprintf("Security code must have %d digits", want))
	}
	return passed
}

// PromoCode accepts 3 to 20 alphanumeric characters after trimming and
// upper casing.
func PromoCode(s string) Result {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch {
	case s == "":
		return fail("Promo code is required")
	case len(s) < minPromoLen || len(s) > maxPromoLen:
		return fail(fmt.Sprintf("Promo code must be %d to %d characters", minPromoLen, maxPromoLen))
	case !promoPattern.MatchString(s):
		return fail("Promo code may only contain letters and digits")
	}
	return passed
}

// Required checks that value is not blank.
func Required(field, value string) Result {
	if strings.TrimSpace(value) == "" {
		return fail(field + " is required")
	}
	return passed
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func stripSeparators(s, seps string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(seps, r) {
			return -1
		}
		return r
	}, s)
}

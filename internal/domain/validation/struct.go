package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one invalid field of a validated struct.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// tagChecks maps custom struct tags to the validator that backs them. The
// validator's message is reported when the tag fails.
var tagChecks = map[string]func(string) Result{
	"person_name": Name,
	"phone":       Phone,
	"card_number": CardNumber,
	"promo_code":  PromoCode,
	"email_addr":  Email,
}

// Validator validates tagged structs and card expiry dates. It is safe for
// concurrent use.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator with the storefront's custom tags registered.
func New(opts ...Option) *Validator {
	v := &Validator{
		v:   validator.New(validator.WithRequiredStructEnabled()),
		now: time.Now,
	}
	for _, o := range opts {
		o(v)
	}

	v.v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	for tag, check := range tagChecks {
		// Registration only fails for an empty tag or nil func.
		_ = v.v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String()).Valid
		})
	}
	return v
}

// Struct validates s and returns its invalid fields in declaration order.
// A nil result means s is valid.
func (v *Validator) Struct(s any) []FieldError {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	verrs, isValidation := err.(validator.ValidationErrors)
	if !isValidation {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

// Expiry checks a card expiry against the validator's clock.
func (v *Validator) Expiry(month, year int) Result {
	return Expiry(month, year, v.now())
}

// Now returns the validator's current time.
func (v *Validator) Now() time.Time {
	return v.now()
}

func message(fe validator.FieldError) string {
	if check, found := tagChecks[fe.Tag()]; found {
		if r := check(fmt.Sprint(fe.Value())); r.Error != "" {
			return r.Error
		}
	}
	label := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label, fe.Param())
	default:
		return label + " is invalid"
	}
}

// humanize turns a field name such as "first_name" into "First name".
func humanize(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return "Value"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

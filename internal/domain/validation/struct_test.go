package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testForm struct {
	FirstName string `json:"first_name" validate:"required,person_name"`
	Phone     string `json:"phone" validate:"required,phone"`
	Card      string `json:"card" validate:"omitempty,card_number"`
	Address   string `json:"address" validate:"required,max=10"`
	Internal  string `json:"-"`
}

func TestValidator_Struct(t *testing.T) {
	v := New()

	t.Run("valid", func(t *testing.T) {
		errs := v.Struct(testForm{
			FirstName: "Layla",
			Phone:     "+966501234567",
			Address:   "1 Main St",
		})
		assert.Nil(t, errs)
	})

	t.Run("reports fields in declaration order", func(t *testing.T) {
		errs := v.Struct(testForm{
			FirstName: "L",
			Phone:     "",
			Card:      "4242424242424241",
			Address:   "a very long street name",
		})
		require.Len(t, errs, 4)

		assert.Equal(t, "first_name", errs[0].Field)
		assert.Equal(t, "Name must be at least 2 characters", errs[0].Message)

		assert.Equal(t, "phone", errs[1].Field)
		assert.Equal(t, "Phone is required", errs[1].Message)

		assert.Equal(t, "card", errs[2].Field)
		assert.Equal(t, "Card number is invalid", errs[2].Message)

		assert.Equal(t, "address", errs[3].Field)
		assert.Equal(t, "Address must be at most 10 characters", errs[3].Message)
	})
}

func TestValidator_Expiry(t *testing.T) {
	v := New(WithClock(func() time.Time {
		return time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	}))

	assert.False(t, v.Expiry(12, 29).Valid)
	assert.True(t, v.Expiry(1, 30).Valid)
}

func TestFieldError_Error(t *testing.T) {
	fe := FieldError{Field: "city", Message: "City is required"}
	assert.Equal(t, "city: City is required", fe.Error())
}

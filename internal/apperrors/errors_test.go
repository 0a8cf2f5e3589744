package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	t.Run("matches sentinel through wrapping", func(t *testing.T) {
		verr := NewValidationError("").Add("username", "This field is required")
		err := fmt.Errorf("register: %w", verr)

		require.ErrorIs(t, err, ErrValidationFailed)

		var target *ValidationError
		require.ErrorAs(t, err, &target)
		require.Equal(t, []string{"This field is required"}, target.Fields["username"])
	})

	t.Run("message lists fields in order", func(t *testing.T) {
		verr := NewValidationError("").
			Add("username", "taken").
			Add("email", "invalid").
			Add("email", "too long")

		require.Equal(t, "validation failed: email: invalid; too long, username: taken", verr.Error())
	})

	t.Run("message without fields", func(t *testing.T) {
		require.Equal(t, "bad request", NewValidationError("bad request").Error())
		require.Equal(t, "validation failed", (&ValidationError{}).Error())
	})

	t.Run("does not match other sentinels", func(t *testing.T) {
		require.False(t, errors.Is(NewValidationError(""), ErrInvalidCredentials))
	})
}

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
)

// kind selects how error responses of an endpoint are read
type kind int

const (
	kindGeneric kind = iota
	kindLogin
	kindRefresh
)

// Machine readable codes the API may send along the message
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountDisabled    = "account_disabled"
	CodeAccountExpired     = "account_expired"
)

// StatusError is a non 2xx response. Err is the category to match with
// errors.Is or a *apperrors.ValidationError.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("status %d: %v: %s", e.Status, e.Err, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Keys the API uses for a human readable message
var messageKeys = []string{"error", "detail", "message", "non_field_errors.0"}

// Keys that never name a form field
var reservedKeys = map[string]struct{}{
	"error":            {},
	"detail":           {},
	"message":          {},
	"code":             {},
	"non_field_errors": {},
	"details":          {},
}

// translateError maps error response to the error taxonomy
func translateError(status int, body []byte, k kind) error {
	msg := message(body)
	code := gjson.GetBytes(body, "code").String()

	wrap := func(err error) error {
		return &StatusError{Status: status, Message: msg, Err: err}
	}

	if k == kindLogin {
		// Only API answers are read, not proxy or server error pages
		if isClientError(status) && gjson.ValidBytes(body) {
			if err := credentialError(code, msg); err != nil {
				return wrap(err)
			}
		}
		switch status {
		case http.StatusUnauthorized:
			return wrap(apperrors.ErrInvalidCredentials)
		case http.StatusForbidden:
			return wrap(apperrors.ErrAccountDisabled)
		}
	}

	switch {
	case status == http.StatusBadRequest:
		if k == kindRefresh {
			return wrap(apperrors.ErrSessionExpired)
		}
		return wrap(validationError(body, msg))
	case status == http.StatusUnauthorized:
		return wrap(apperrors.ErrSessionExpired)
	case status == http.StatusForbidden:
		return wrap(apperrors.ErrInsufficientPrivilege)
	default:
		return wrap(apperrors.ErrUnexpectedResponse)
	}
}

func isClientError(status int) bool {
	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

// credentialError recognises login rejections. Code wins over message.
func credentialError(code, msg string) error {
	switch code {
	case CodeInvalidCredentials:
		return apperrors.ErrInvalidCredentials
	case CodeAccountDisabled:
		return apperrors.ErrAccountDisabled
	case CodeAccountExpired:
		return apperrors.ErrAccountExpired
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "identifiants incorrects"), strings.Contains(lower, "invalid credentials"):
		return apperrors.ErrInvalidCredentials
	case strings.Contains(lower, "désactivé"), strings.Contains(lower, "disabled"):
		return apperrors.ErrAccountDisabled
	case strings.Contains(lower, "expiré"), strings.Contains(lower, "expired"):
		return apperrors.ErrAccountExpired
	}

	return nil
}

func message(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}

	for _, key := range messageKeys {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String {
			return v.String()
		}
	}

	return ""
}

// validationError collects field errors from either a flat object
// {"field": ["msg"]} or {"details": {"field": ["msg"]}}
func validationError(body []byte, msg string) *apperrors.ValidationError {
	verr := apperrors.NewValidationError(msg)
	if !gjson.ValidBytes(body) {
		return verr
	}

	collect := func(fields gjson.Result, skipReserved bool) {
		fields.ForEach(func(key, value gjson.Result) bool {
			if _, reserved := reservedKeys[key.String()]; skipReserved && reserved {
				return true
			}
			switch {
			case value.IsArray():
				for _, item := range value.Array() {
					verr.Add(key.String(), item.String())
				}
			case value.Type == gjson.String:
				verr.Add(key.String(), value.String())
			}
			return true
		})
	}

	root := gjson.ParseBytes(body)
	if details := root.Get("details"); details.IsObject() {
		collect(details, false)
	}
	if root.IsObject() {
		collect(root, true)
	}

	return verr
}

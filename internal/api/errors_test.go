package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
)

func TestTranslateError(t *testing.T) {
	t.Parallel()

	t.Run("login rejections", func(t *testing.T) {
		tests := []struct {
			name   string
			status int
			body   string
			want   error
		}{
			{"french invalid credentials", http.StatusUnauthorized, `{"error":"Identifiants incorrects"}`, apperrors.ErrInvalidCredentials},
			{"english invalid credentials", http.StatusBadRequest, `{"detail":"Invalid credentials"}`, apperrors.ErrInvalidCredentials},
			{"disabled", http.StatusForbidden, `{"error":"Compte désactivé"}`, apperrors.ErrAccountDisabled},
			{"expired", http.StatusForbidden, `{"error":"Votre compte étudiant a expiré"}`, apperrors.ErrAccountExpired},
			{"code wins over message", http.StatusForbidden, `{"error":"Compte désactivé","code":"account_expired"}`, apperrors.ErrAccountExpired},
			{"bare 401", http.StatusUnauthorized, ``, apperrors.ErrInvalidCredentials},
			{"bare 403", http.StatusForbidden, `{}`, apperrors.ErrAccountDisabled},
			{"non field error", http.StatusBadRequest, `{"non_field_errors":["Identifiants incorrects"]}`, apperrors.ErrInvalidCredentials},
			{"field errors", http.StatusBadRequest, `{"username":["Ce champ est obligatoire."]}`, apperrors.ErrValidationFailed},
			{"server error", http.StatusInternalServerError, `oops`, apperrors.ErrUnexpectedResponse},
			{"server error page mentioning expiry", http.StatusInternalServerError, `<html>Session expired or disabled</html>`, apperrors.ErrUnexpectedResponse},
			{"server error json mentioning disabled", http.StatusBadGateway, `{"error":"upstream disabled"}`, apperrors.ErrUnexpectedResponse},
			{"html 403 page", http.StatusForbidden, `<html>Account expired</html>`, apperrors.ErrAccountDisabled},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := translateError(tt.status, []byte(tt.body), kindLogin)

				require.ErrorIs(t, err, tt.want)

				var serr *StatusError
				require.ErrorAs(t, err, &serr)
				require.Equal(t, tt.status, serr.Status)
			})
		}
	})

	t.Run("generic endpoints", func(t *testing.T) {
		tests := []struct {
			name   string
			status int
			body   string
			want   error
		}{
			{"forbidden", http.StatusForbidden, `{"detail":"You do not have permission to perform this action."}`, apperrors.ErrInsufficientPrivilege},
			{"forbidden with disabled word is still privilege", http.StatusForbidden, `{"detail":"disabled feature"}`, apperrors.ErrInsufficientPrivilege},
			{"unauthorized", http.StatusUnauthorized, `{"detail":"Given token not valid"}`, apperrors.ErrSessionExpired},
			{"not found", http.StatusNotFound, `{"detail":"Not found."}`, apperrors.ErrUnexpectedResponse},
			{"bad request", http.StatusBadRequest, `{"email":"Enter a valid email address."}`, apperrors.ErrValidationFailed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.ErrorIs(t, translateError(tt.status, []byte(tt.body), kindGeneric), tt.want)
			})
		}
	})

	t.Run("refresh rejection is session expiry", func(t *testing.T) {
		err := translateError(http.StatusBadRequest, []byte(`{"refresh":["This field may not be blank."]}`), kindRefresh)
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)

		err = translateError(http.StatusUnauthorized, []byte(`{"detail":"Token is invalid or expired","code":"token_not_valid"}`), kindRefresh)
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	})

	t.Run("validation fields", func(t *testing.T) {
		tests := []struct {
			name    string
			body    string
			fields  map[string][]string
			message string
		}{
			{
				name:   "flat field map",
				body:   `{"username":["Un utilisateur avec ce nom existe déjà."],"password":["Trop court.","Trop commun."]}`,
				fields: map[string][]string{"username": {"Un utilisateur avec ce nom existe déjà."}, "password": {"Trop court.", "Trop commun."}},
			},
			{
				name:    "nested details",
				body:    `{"error":"Données invalides","details":{"email":["Adresse invalide."]}}`,
				fields:  map[string][]string{"email": {"Adresse invalide."}},
				message: "Données invalides",
			},
			{
				name:    "message only",
				body:    `{"error":"Requête invalide"}`,
				fields:  map[string][]string{},
				message: "Requête invalide",
			},
			{
				name:    "not json",
				body:    `Bad Request`,
				fields:  map[string][]string{},
				message: "Bad Request",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := translateError(http.StatusBadRequest, []byte(tt.body), kindGeneric)

				var verr *apperrors.ValidationError
				require.ErrorAs(t, err, &verr)
				require.Equal(t, tt.fields, verr.Fields)
				require.Equal(t, tt.message, verr.Message)
			})
		}
	})
}

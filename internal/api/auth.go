package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	LoginPath          = "/auth/login/"
	RegisterPath       = "/auth/register-student/"
	RefreshPath        = "/auth/token/refresh/"
	LogoutPath         = "/auth/logout/"
	CurrentUserPath    = "/auth/current-user/"
	ChangePasswordPath = "/auth/password/change/"
)

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access string `json:"access"`
}

// Login exchanges credentials for a token pair. Stored tokens are not sent.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.do(ctx, call{
		method:    http.MethodPost,
		path:      LoginPath,
		body:      creds,
		result:    &resp,
		anonymous: true,
		kind:      kindLogin,
	})
	if err != nil {
		return resp, err
	}

	return resp, checkAuthResponse(resp)
}

// RegisterStudent creates student account and logs it in
func (c *Client) RegisterStudent(ctx context.Context, reg models.Registration) (models.AuthResponse, error) {
	var resp models.AuthResponse
	err := c.do(ctx, call{
		method:    http.MethodPost,
		path:      RegisterPath,
		body:      reg,
		result:    &resp,
		anonymous: true,
	})
	if err != nil {
		return resp, err
	}

	return resp, checkAuthResponse(resp)
}

// RefreshAccess trades refresh token for a new access token.
// The refresh token itself stays the same.
func (c *Client) RefreshAccess(ctx context.Context, refresh string) (string, error) {
	var resp refreshResponse
	err := c.do(ctx, call{
		method:    http.MethodPost,
		path:      RefreshPath,
		body:      refreshRequest{Refresh: refresh},
		result:    &resp,
		anonymous: true,
		kind:      kindRefresh,
	})
	if err != nil {
		return "", err
	}

	if resp.Access == "" {
		return "", fmt.Errorf("%w: refresh response without access token", apperrors.ErrUnexpectedResponse)
	}
	return resp.Access, nil
}

// Logout blacklists the refresh token on the server.
// A rejected access token is not refreshed: the session ends anyway.
func (c *Client) Logout(ctx context.Context, refresh string) error {
	return c.do(ctx, call{
		method:    http.MethodPost,
		path:      LogoutPath,
		body:      refreshRequest{Refresh: refresh},
		noRefresh: true,
	})
}

func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.Do(ctx, http.MethodGet, CurrentUserPath, nil, &user)
	return user, err
}

func (c *Client) ChangePassword(ctx context.Context, change models.PasswordChange) error {
	return c.Do(ctx, http.MethodPost, ChangePasswordPath, change, nil)
}

func (c *Client) UpdateProfile(ctx context.Context, userID int64, update models.ProfileUpdate) (models.User, error) {
	var user models.User
	err := c.Do(ctx, http.MethodPatch, fmt.Sprintf("/users/%d/update_profile/", userID), update, &user)
	return user, err
}

func checkAuthResponse(resp models.AuthResponse) error {
	if resp.Access == "" || resp.Refresh == "" {
		return fmt.Errorf("%w: response without tokens", apperrors.ErrUnexpectedResponse)
	}
	return nil
}

package backend

import (
	"context"
	"net/http"

	"github.com/MADA-gnuBD/bikeops/models"
)

// wireAuth accepts both token and accessToken field names.
type wireAuth struct {
	Token        string       `json:"token"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *models.User `json:"user"`
}

func (w wireAuth) result() models.AuthResult {
	tok := w.Token
	if tok == "" {
		tok = w.AccessToken
	}
	return models.AuthResult{Token: tok, RefreshToken: w.RefreshToken, User: w.User}
}

func (c *Client) authCall(ctx context.Context, op, path string, body any) (models.AuthResult, error) {
	var w wireAuth
	if err := c.do(ctx, call{op: op, method: http.MethodPost, path: path, body: body}, &w); err != nil {
		return models.AuthResult{}, err
	}
	res := w.result()
	if res.Token == "" {
		return models.AuthResult{}, &Error{Op: op, Status: http.StatusOK, Code: CodeDecode, Message: "backend issued no token"}
	}
	return res, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (models.AuthResult, error) {
	return c.authCall(ctx, "login", "/api/users/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, email, password, name string) (models.AuthResult, error) {
	return c.authCall(ctx, "signup", "/api/users/signup", map[string]string{
		"email":    email,
		"password": password,
		"name":     name,
	})
}

// Refresh exchanges a refresh token for a new bearer token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (models.AuthResult, error) {
	return c.authCall(ctx, "refresh", "/api/users/refresh", map[string]string{
		"refreshToken": refreshToken,
	})
}

// Me returns the account behind the token in ctx.
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var u models.User
	err := c.do(ctx, call{op: "me", method: http.MethodGet, path: "/api/users/me"}, &u)
	return u, err
}

// UpdateProfile changes name, email or password. Empty fields are not sent.
func (c *Client) UpdateProfile(ctx context.Context, in models.ProfileUpdate) (models.User, error) {
	var u models.User
	err := c.do(ctx, call{op: "update_profile", method: http.MethodPut, path: "/api/users/me", body: in}, &u)
	return u, err
}

// DeleteAccount removes the signed-in account.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.do(ctx, call{op: "delete_account", method: http.MethodDelete, path: "/api/users/me"}, nil)
}

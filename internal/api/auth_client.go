package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/vantagesearch/client/internal/config"
	"github.com/vantagesearch/client/internal/models"
)

var (
	errInvalidEmail  = errors.New("a valid email address is required")
	errEmptyPassword = errors.New("password must not be empty")
)

// AuthClient performs the unauthenticated login and registration calls.
type AuthClient struct {
	t *transport
}

// NewAuthClient builds an AuthClient against baseURL.
func NewAuthClient(baseURL string, httpClient *http.Client, timeouts config.Timeouts) (*AuthClient, error) {
	t, err := newTransport(baseURL, httpClient, timeouts)
	if err != nil {
		return nil, err
	}
	return &AuthClient{t: t}, nil
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"full_name,omitempty"`
}

// Login exchanges credentials for a session.
func (c *AuthClient) Login(ctx context.Context, email, password string) (models.Session, error) {
	const op = "login"
	email, err := validateCredentials(op, email, password)
	if err != nil {
		return models.Session{}, err
	}

	var resp wireSession
	err = c.t.doJSON(ctx, c.jsonCall(op, "/auth/login", credentialsRequest{Email: email, Password: password}), &resp)
	if err != nil {
		return models.Session{}, credentialFailure(err)
	}

	session, err := resp.session(c.t.now())
	if err != nil {
		return models.Session{}, &Error{Op: op, Category: CategoryAuth, Kind: ErrServer, Err: err}
	}
	if session.DisplayName == "" {
		session.DisplayName = email
	}
	return session, nil
}

// Register creates an account. It does not establish a session.
func (c *AuthClient) Register(ctx context.Context, email, password, displayName string) error {
	const op = "register"
	email, err := validateCredentials(op, email, password)
	if err != nil {
		return err
	}

	body := credentialsRequest{Email: email, Password: password, DisplayName: strings.TrimSpace(displayName)}
	if err := c.t.doJSON(ctx, c.jsonCall(op, "/auth/register", body), nil); err != nil {
		return credentialFailure(err)
	}
	return nil
}

func (c *AuthClient) jsonCall(op, path string, payload any) call {
	return call{
		op:       op,
		category: CategoryAuth,
		method:   http.MethodPost,
		url:      c.t.endpoint(path, nil),
		body: func() (io.Reader, string, error) {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, "", err
			}
			return bytes.NewReader(data), "application/json", nil
		},
	}
}

func validateCredentials(op, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", &Error{Op: op, Category: CategoryAuth, Kind: ErrAuth, Err: errInvalidEmail}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &Error{Op: op, Category: CategoryAuth, Kind: ErrAuth, Err: errInvalidEmail}
	}
	if password == "" {
		return "", &Error{Op: op, Category: CategoryAuth, Kind: ErrAuth, Err: errEmptyPassword}
	}
	return email, nil
}

// credentialFailure maps rejected or malformed credentials (4xx) to ErrAuth.
func credentialFailure(err error) error {
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode == 0 {
		return err
	}
	switch apiErr.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict, http.StatusUnprocessableEntity:
		apiErr.Kind = ErrAuth
	}
	return apiErr
}

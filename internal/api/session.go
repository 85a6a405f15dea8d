package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Session holds the tokens returned by POST /session.
type Session struct {
	CST           string
	SecurityToken string
	AccountID     string
	ClientID      string
	CreatedAt     time.Time
}

type sessionRequest struct {
	Identifier        string `json:"identifier"`
	Password          string `json:"password"`
	EncryptedPassword bool   `json:"encryptedPassword"`
}

type sessionResponse struct {
	CurrentAccountID string `json:"currentAccountId"`
	ClientID         string `json:"clientId"`
	TimezoneOffset   int    `json:"timezoneOffset"`
}

// CreateSession logs in and returns the session tokens.
// Logins are not retried here; callers own the login policy.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Session, error) {
	resp, err := c.doRequest(ctx, request{
		method:  http.MethodPost,
		path:    "/session",
		version: "2",
		body: sessionRequest{
			Identifier: identifier,
			Password:   password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s := &Session{
		CST:           resp.header.Get("CST"),
		SecurityToken: resp.header.Get("X-SECURITY-TOKEN"),
		CreatedAt:     time.Now(),
	}
	if s.CST == "" || s.SecurityToken == "" {
		return nil, errors.New("create session: response missing CST or X-SECURITY-TOKEN header")
	}

	var body sessionResponse
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &body); err != nil {
			return nil, fmt.Errorf("create session: unmarshal response: %w", err)
		}
	}
	s.AccountID = body.CurrentAccountID
	s.ClientID = body.ClientID

	c.logger.Debug("session created", "account_id", s.AccountID)
	return s, nil
}

// DeleteSession logs out.
func (c *Client) DeleteSession(ctx context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	_, err := c.doRequest(ctx, request{
		method:  http.MethodDelete,
		path:    "/session",
		version: "1",
		session: s,
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

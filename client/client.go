// Package client is the device-side HTTP client for the presence backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUnauthorized means the bearer token was missing or rejected.
	ErrUnauthorized = errors.New("client: unauthorized")

	// ErrForbidden means the caller is known but not allowed to participate
	// (e.g. suspended). The device must not broadcast in this state.
	ErrForbidden = errors.New("client: forbidden")
)

// Sighting is one uploaded (identifier, signal strength) pair.
type Sighting struct {
	Identifier     string `json:"identifier"`
	SignalStrength int    `json:"signalStrength"`
}

// NearbyUser is one resolved nearby user. SignalStrength is for approximate
// distance display only, never precise ranging.
type NearbyUser struct {
	UserID          string `json:"userId"`
	DisplayIdentity string `json:"displayIdentity"`
	SignalStrength  int    `json:"approximateSignalStrength"`
}

// Identity is the caller's own current presence code.
type Identity struct {
	Identifier string    `json:"identifier"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Client talks to the presence backend with a bearer token identifying the
// caller. Token issuance is the auth collaborator's concern.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the given base URL and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchIdentity requests (or refreshes) the caller's presence code.
func (c *Client) FetchIdentity(ctx context.Context) (Identity, error) {
	var out Identity
	err := c.post(ctx, "/v1/identity", nil, &out)
	return out, err
}

// RotateIdentity forces a fresh presence code, invalidating the previous one
// immediately. This is the user-facing "start fresh" privacy action.
func (c *Client) RotateIdentity(ctx context.Context) (Identity, error) {
	var out Identity
	err := c.post(ctx, "/v1/identity/rotate", nil, &out)
	return out, err
}

type uploadRequest struct {
	Identifiers []Sighting `json:"identifiers"`
}

type uploadResponse struct {
	Users []NearbyUser `json:"users"`
}

// UploadSightings sends the current presence snapshot and returns the
// resolved, privacy-filtered nearby-user list.
func (c *Client) UploadSightings(ctx context.Context, sightings []Sighting) ([]NearbyUser, error) {
	var out uploadResponse
	if err := c.post(ctx, "/v1/nearby", uploadRequest{Identifiers: sightings}, &out); err != nil {
		return nil, err
	}
	if out.Users == nil {
		return []NearbyUser{}, nil
	}
	return out.Users, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return fmt.Errorf("client: %s: unexpected status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

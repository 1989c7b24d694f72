package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// StatusSkipped is returned by the verification calls when the client
// authenticates with a static key.
const StatusSkipped = "skipped"

// VerificationRequest is the answer to a verification code request.
type VerificationRequest struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// VerificationResult is the answer to a code submission.
type VerificationResult struct {
	Status    string `json:"status"`
	AuthToken string `json:"auth_token"`
	Message   string `json:"message"`
	ExpiresIn int    `json:"expires_in,omitempty"`
}

// Skipped reports whether no network call was made.
func (r *VerificationRequest) Skipped() bool { return r.Status == StatusSkipped }

// Skipped reports whether no network call was made.
func (r *VerificationResult) Skipped() bool { return r.Status == StatusSkipped }

// RequestVerificationCode asks the service to send a code to phone. The
// returned session id is kept on the client for VerifyCode.
func (c *Client) RequestVerificationCode(ctx context.Context, phone string) (*VerificationRequest, error) {
	if apiKey, _ := c.credentials(); apiKey != "" {
		return &VerificationRequest{Status: StatusSkipped, Message: "using API key authentication"}, nil
	}
	if phone != "" {
		c.SetPhoneNumber(phone)
	}
	phone = c.PhoneNumber()
	if phone == "" {
		return nil, &AuthenticationError{Message: "phone number is required for verification"}
	}

	var out VerificationRequest
	if err := c.postAuth(ctx, PathAuth, map[string]string{"phone_number": phone}, &out); err != nil {
		return nil, err
	}
	if out.SessionID == "" {
		return nil, &AuthenticationError{Message: "verification request returned no session id"}
	}

	c.mu.Lock()
	c.sessionID = out.SessionID
	c.mu.Unlock()
	return &out, nil
}

// VerifyCode submits code for sessionID, or for the session of the last
// RequestVerificationCode when sessionID is empty. On success the bearer
// token is installed on the client.
func (c *Client) VerifyCode(ctx context.Context, sessionID, code string) (*VerificationResult, error) {
	if apiKey, _ := c.credentials(); apiKey != "" {
		return &VerificationResult{Status: StatusSkipped, Message: "using API key authentication"}, nil
	}
	if sessionID == "" {
		c.mu.Lock()
		sessionID = c.sessionID
		c.mu.Unlock()
	}
	if sessionID == "" {
		return nil, &AuthenticationError{Message: "no verification in progress, request a code first"}
	}

	body := map[string]string{"session_id": sessionID, "verification_code": code}
	var out VerificationResult
	if err := c.postAuth(ctx, PathVerify, body, &out); err != nil {
		return nil, err
	}
	if out.AuthToken == "" {
		return nil, &AuthenticationError{Message: "verification returned no token"}
	}

	c.mu.Lock()
	c.bearerToken = out.AuthToken
	c.sessionID = ""
	c.mu.Unlock()
	return &out, nil
}

// postAuth issues an unauthenticated call to a verification endpoint. Every
// non-2xx answer is an AuthenticationError the caller may retry.
func (c *Client) postAuth(ctx context.Context, path string, body, out any) error {
	ctx, cancel, timeout := c.withTimeout(ctx, 0)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	req.Header.Del("Authorization")

	resp, err := c.do(req, timeout)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return translateTransportError(req.URL.String(), timeout, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: serverMessage(data, resp.Status)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ClientError{StatusCode: resp.StatusCode, Message: "unexpected response: " + err.Error()}
	}
	return nil
}

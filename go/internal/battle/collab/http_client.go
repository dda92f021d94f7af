package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mrowan14/codeclash/go/internal/battle"
)

// HTTPClient implements MatchService and SubmissionService against the
// platform's REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewHTTPClient creates a client for the given platform base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header included on every request.
func (c *HTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// CreateOrJoinMatch asks matchmaking for a session.
func (c *HTTPClient) CreateOrJoinMatch(ctx context.Context, req CreateMatchRequest) (*battle.MatchSession, error) {
	var session battle.MatchSession
	if err := c.postJSON(ctx, "/api/matches", req, &session); err != nil {
		return nil, fmt.Errorf("create or join match: %w", err)
	}
	return &session, nil
}

// RespondToChallenge accepts or declines a direct challenge.
func (c *HTTPClient) RespondToChallenge(ctx context.Context, challengeID string, response ChallengeResponse) error {
	body := map[string]string{"response": string(response)}
	endpoint := fmt.Sprintf("/api/challenges/%s/respond", challengeID)
	if err := c.postJSON(ctx, endpoint, body, nil); err != nil {
		return fmt.Errorf("respond to challenge %s: %w", challengeID, err)
	}
	return nil
}

// SubmitSolution sends the local user's code for grading.
func (c *HTTPClient) SubmitSolution(ctx context.Context, sessionID, userID, code string) (SubmissionResult, error) {
	body := map[string]string{"user_id": userID, "code": code}
	endpoint := fmt.Sprintf("/api/battles/%s/submissions", sessionID)

	var result SubmissionResult
	if err := c.postJSON(ctx, endpoint, body, &result); err != nil {
		return SubmissionResult{}, fmt.Errorf("submit solution for session %s: %w", sessionID, err)
	}
	return result, nil
}

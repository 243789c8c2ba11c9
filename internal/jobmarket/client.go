// Package jobmarket is a thin client for the job-market intelligence
// collaborator. It only fetches grounding snippets for persona prompts;
// ranking and relevance are the collaborator's problem.
package jobmarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/davidsunday2/careersim/internal/session"
)

// Client fetches grounding snippets over HTTP. It satisfies the persona
// package's Retriever interface.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New constructs a Client. baseURL is the collaborator's root, without a
// trailing slash.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type snippetsResponse struct {
	Snippets []string `json:"snippets"`
}

// Snippets returns short market-context strings for the scenario and topics.
// An empty result is not an error; callers treat failures as non-fatal.
func (c *Client) Snippets(ctx context.Context, scenario session.Scenario, topics []string) ([]string, error) {
	q := url.Values{}
	q.Set("scenario", string(scenario))
	if len(topics) > 0 {
		q.Set("topics", strings.Join(topics, ","))
	}
	endpoint := fmt.Sprintf("%s/v1/snippets?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build snippets request")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "job market request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("job market returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload snippetsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "decode snippets")
	}
	return payload.Snippets, nil
}

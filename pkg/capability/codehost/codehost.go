// Package codehost implements capability.CodeHost over the plain GitHub
// REST API. No GitHub SDK appears anywhere in the example pack, so this
// talks to the API directly over net/http the way the teacher's
// notification delivery adapters talk to their own external services
// (see pkg/notification/delivery) — same shape, different wire format.
package codehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/breaker"
	"github.com/jordigilh/kubernaut-workflow-engine/pkg/capability"
)

const defaultBaseURL = "https://api.github.com"

// Config parametrizes the client. Enabled=false makes CreateIssue return
// a Skipped result instead of making any request — the dependency-disabled
// path from spec.md §4.11.
type Config struct {
	Enabled bool
	BaseURL string
	Owner   string
	Repo    string
	Token   string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *breaker.Breaker
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    breaker.New(breaker.DefaultConfig("codehost-client")),
	}
}

type createIssueRequest struct {
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

type createIssueResponse struct {
	HTMLURL string `json:"html_url"`
	Number  int    `json:"number"`
	State   string `json:"state"`
}

// CreateIssue implements capability.CodeHost.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels, assignees []string) (*capability.Issue, *capability.Skipped, error) {
	if !c.cfg.Enabled {
		return nil, &capability.Skipped{Reason: "code host integration disabled by configuration"}, nil
	}

	payload, err := json.Marshal(createIssueRequest{Title: title, Body: body, Labels: labels, Assignees: assignees})
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal issue payload")
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.cfg.BaseURL, c.cfg.Owner, c.cfg.Repo)

	result, err := c.breaker.Call(ctx, func() (any, error) {
		return c.doCreateIssue(ctx, url, payload)
	})
	if err != nil {
		return nil, nil, err
	}

	issue := result.(*capability.Issue)
	return issue, nil, nil
}

func (c *Client) doCreateIssue(ctx context.Context, url string, payload []byte) (*capability.Issue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "build issue request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "create issue request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "read issue response")
	}

	if resp.StatusCode >= 500 {
		return nil, apperrors.New(apperrors.ErrorTypeNetwork, fmt.Sprintf("github returned %d", resp.StatusCode)).WithDetails(string(respBody))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, fmt.Sprintf("github rejected issue creation: %d", resp.StatusCode)).WithDetails(string(respBody))
	}

	var parsed createIssueResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "parse issue response")
	}

	return &capability.Issue{URL: parsed.HTMLURL, Number: parsed.Number, State: parsed.State}, nil
}

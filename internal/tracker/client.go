package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-intake/internal/domain"
	"github.com/spec-kit/ticket-intake/internal/observability"
)

const (
	createIssueMutation = `mutation IssueCreate($input: IssueCreateInput!) {
  issueCreate(input: $input) { success issue { id identifier url } }
}`
	updateIssueMutation = `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
  issueUpdate(id: $id, input: $input) { success }
}`
	createCommentMutation = `mutation CommentCreate($input: CommentCreateInput!) {
  commentCreate(input: $input) { success comment { id body url } }
}`
	teamCatalogQuery = `query TeamCatalog($id: String!) {
  team(id: $id) {
    labels { nodes { id name } }
    states { nodes { id name } }
    members { nodes { id name } }
  }
}`
)

var _ Gateway = (*Client)(nil)

// ClientConfig configures the GraphQL tracker client.
type ClientConfig struct {
	APIURL  string
	APIKey  string
	TeamID  string
	Timeout time.Duration
}

// Client talks to a Linear-style GraphQL API.
type Client struct {
	apiURL     string
	apiKey     string
	teamID     string
	httpClient *http.Client
	catalog    *Catalog
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewClient builds a Client. The catalog supplies label ids for new issues.
func NewClient(cfg ClientConfig, catalog *Catalog, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		teamID:     cfg.TeamID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		catalog:    catalog,
		logger:     logger,
		metrics:    metrics,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// CreateTicket creates an issue from the draft.
func (c *Client) CreateTicket(ctx context.Context, draft domain.Draft) (domain.ExternalTicket, error) {
	input := map[string]any{
		"teamId":      c.teamID,
		"title":       draft.Title,
		"description": draft.Description,
	}
	if p := draft.Priority.TrackerValue(); p > 0 {
		input["priority"] = p
	}
	if c.catalog != nil {
		if id, ok := c.catalog.LabelID(draft.Label); ok {
			input["labelIds"] = []string{id}
		}
	}

	var out struct {
		IssueCreate struct {
			Success bool `json:"success"`
			Issue   struct {
				ID         string `json:"id"`
				Identifier string `json:"identifier"`
				URL        string `json:"url"`
			} `json:"issue"`
		} `json:"issueCreate"`
	}
	err := c.do(ctx, "create_ticket", createIssueMutation, map[string]any{"input": input}, &out)
	if err != nil {
		return domain.ExternalTicket{}, err
	}
	if !out.IssueCreate.Success || out.IssueCreate.Issue.ID == "" {
		return domain.ExternalTicket{}, fmt.Errorf("%w: issue was not created", ErrRejected)
	}
	issue := out.IssueCreate.Issue
	c.logger.Info("tracker issue created", zap.String("identifier", issue.Identifier))
	return domain.ExternalTicket{ID: issue.ID, Identifier: issue.Identifier, URL: issue.URL}, nil
}

// UpdateStatus moves an issue to another workflow state.
func (c *Client) UpdateStatus(ctx context.Context, ticketID, statusID string) (bool, error) {
	return c.updateIssue(ctx, "update_status", ticketID, map[string]any{"stateId": statusID})
}

// UpdateAssignee reassigns an issue.
func (c *Client) UpdateAssignee(ctx context.Context, ticketID, assigneeID string) (bool, error) {
	return c.updateIssue(ctx, "update_assignee", ticketID, map[string]any{"assigneeId": assigneeID})
}

func (c *Client) updateIssue(ctx context.Context, op, ticketID string, input map[string]any) (bool, error) {
	var out struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	err := c.do(ctx, op, updateIssueMutation, map[string]any{"id": ticketID, "input": input}, &out)
	if err != nil {
		return false, err
	}
	return out.IssueUpdate.Success, nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, ticketID, text string) (*Comment, error) {
	var out struct {
		CommentCreate struct {
			Success bool    `json:"success"`
			Comment Comment `json:"comment"`
		} `json:"commentCreate"`
	}
	input := map[string]any{"issueId": ticketID, "body": text}
	if err := c.do(ctx, "add_comment", createCommentMutation, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	if !out.CommentCreate.Success {
		return nil, fmt.Errorf("%w: comment was not created", ErrRejected)
	}
	comment := out.CommentCreate.Comment
	return &comment, nil
}

// FetchSnapshot reads the team's labels, workflow states and members.
func (c *Client) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	type nodes struct {
		Nodes []Option `json:"nodes"`
	}
	var out struct {
		Team struct {
			Labels  nodes `json:"labels"`
			States  nodes `json:"states"`
			Members nodes `json:"members"`
		} `json:"team"`
	}
	if err := c.do(ctx, "fetch_catalog", teamCatalogQuery, map[string]any{"id": c.teamID}, &out); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Labels:    out.Team.Labels.Nodes,
		Statuses:  out.Team.States.Nodes,
		Assignees: out.Team.Members.Nodes,
	}, nil
}

func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) (err error) {
	defer func() { c.metrics.RecordTrackerCall(op, err) }()

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("%w: %s", ErrRejected, strings.Join(msgs, "; "))
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
	}
	return nil
}

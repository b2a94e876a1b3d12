package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// Client talks to a conductor Server.
type Client struct {
	baseURL string
	rpc     *a2a.HTTPClient
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL. The event stream
// uses a client without timeout; hc, when non-nil, serves RPC calls.
func NewClient(baseURL string, hc *http.Client) *Client {
	opts := []a2a.ClientOption{}
	if hc != nil {
		opts = append(opts, a2a.WithHTTPClient(hc))
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rpc:     a2a.NewHTTPClient(opts...),
		http:    &http.Client{},
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	err := c.rpc.Call(ctx, c.baseURL+RPCPath, method, params, result)
	var rpcErr *a2a.RPCError
	if errors.As(err, &rpcErr) {
		if mapped := codeError(rpcErr); mapped != nil {
			return fmt.Errorf("%s: %w", method, mapped)
		}
	}
	return err
}

// StartSession starts a session with the given inputs.
func (c *Client) StartSession(ctx context.Context, inputs ...orchestrator.Input) (string, error) {
	var res StartResult
	if err := c.call(ctx, MethodStartSession, StartParams{Inputs: inputs}, &res); err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// SubmitInput feeds input into a session.
func (c *Client) SubmitInput(ctx context.Context, sessionID string, in orchestrator.Input) error {
	return c.call(ctx, MethodSubmitInput, InputParams{SessionID: sessionID, Input: in}, nil)
}

// ResolveDecision answers an open decision.
func (c *Client) ResolveDecision(ctx context.Context, sessionID, requestID string, resp orchestrator.Response) (orchestrator.Outcome, error) {
	var out orchestrator.Outcome
	err := c.call(ctx, MethodResolveDecision, ResolveParams{SessionID: sessionID, RequestID: requestID, Response: resp}, &out)
	return out, err
}

// CancelSession cancels a session.
func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, MethodCancelSession, SessionParams{SessionID: sessionID}, nil)
}

// CloseSession destroys a session.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, MethodCloseSession, SessionParams{SessionID: sessionID}, nil)
}

// State fetches a session snapshot.
func (c *Client) State(ctx context.Context, sessionID string) (orchestrator.WorkflowState, error) {
	var st orchestrator.WorkflowState
	err := c.call(ctx, MethodGetSession, SessionParams{SessionID: sessionID}, &st)
	return st, err
}

// List pages through sessions.
func (c *Client) List(ctx context.Context, req orchestrator.ListRequest) (orchestrator.ListResponse, error) {
	var resp orchestrator.ListResponse
	err := c.call(ctx, MethodListSessions, req, &resp)
	return resp, err
}

// Events opens the session's event stream. The channel closes after the
// terminal event or when ctx is cancelled.
func (c *Client) Events(ctx context.Context, sessionID string) (<-chan StreamItem, error) {
	u := c.baseURL + "/v1/sessions/" + url.PathEscape(sessionID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("api: event stream: %w", orchestrator.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("api: event stream: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return ReadEvents(ctx, resp.Body), nil
}

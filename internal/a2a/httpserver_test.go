package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Mock Handler
// ---------------------------------------------------------------------------

type mockHandler struct {
	sendMessage func(ctx context.Context, req SendMessageRequest) (*Task, error)
	getTask     func(ctx context.Context, req GetTaskRequest) (*Task, error)
	cancelTask  func(ctx context.Context, req CancelTaskRequest) (*Task, error)
}

func (m *mockHandler) HandleSendMessage(ctx context.Context, req SendMessageRequest) (*Task, error) {
	if m.sendMessage != nil {
		return m.sendMessage(ctx, req)
	}
	return nil, fmt.Errorf("sendMessage not implemented")
}

func (m *mockHandler) HandleGetTask(ctx context.Context, req GetTaskRequest) (*Task, error) {
	if m.getTask != nil {
		return m.getTask(ctx, req)
	}
	return nil, fmt.Errorf("getTask not implemented")
}

func (m *mockHandler) HandleCancelTask(ctx context.Context, req CancelTaskRequest) (*Task, error) {
	if m.cancelTask != nil {
		return m.cancelTask(ctx, req)
	}
	return nil, fmt.Errorf("cancelTask not implemented")
}

var testCard = AgentCard{
	Name:    "stage-host",
	Version: "0.1.0",
	Skills:  []AgentSkill{{ID: "normalize-rows", Name: "normalize-rows"}},
}

func newTestServer(t *testing.T, h Handler) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(testCard, h).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func rawCall(t *testing.T, url, body string) JSONRPCResponse {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestServer_AgentCard(t *testing.T) {
	ts := newTestServer(t, &mockHandler{})

	card, err := NewHTTPClient().DiscoverAgent(context.Background(), ts.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "stage-host", card.Name)
	require.Len(t, card.Skills, 1)
	assert.Equal(t, "normalize-rows", card.Skills[0].ID)
}

func TestServer_SendMessageRoundTrip(t *testing.T) {
	ts := newTestServer(t, &mockHandler{
		sendMessage: func(_ context.Context, req SendMessageRequest) (*Task, error) {
			part, err := DataPart(map[string]any{"echo": req.Message.Parts[0].Text})
			if err != nil {
				return nil, err
			}
			return &Task{
				ID:     "task-1",
				Status: TaskStatus{State: TaskStateCompleted},
				Artifacts: []Artifact{{
					ArtifactID: "out",
					Parts:      []Part{part},
				}},
			}, nil
		},
	})

	task, err := NewHTTPClient().SendMessage(context.Background(), ts.URL, SendMessageRequest{
		Message: Message{MessageID: "m1", Role: RoleUser, Parts: []Part{TextPart("hello")}},
	})
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, task.Status.State)

	data, err := task.FirstData()
	require.NoError(t, err)
	assert.Equal(t, "hello", data["echo"])
}

func TestServer_ErrorCodes(t *testing.T) {
	ts := newTestServer(t, &mockHandler{
		getTask: func(_ context.Context, req GetTaskRequest) (*Task, error) {
			return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, req.ID)
		},
		cancelTask: func(_ context.Context, req CancelTaskRequest) (*Task, error) {
			return nil, ErrTaskNotCancelable
		},
	})
	client := NewHTTPClient()
	ctx := context.Background()

	_, err := client.GetTask(ctx, ts.URL, GetTaskRequest{ID: "nope"})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeTaskNotFound, rpcErr.Code)

	_, err = client.CancelTask(ctx, ts.URL, CancelTaskRequest{ID: "done"})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeTaskNotCancelable, rpcErr.Code)

	_, err = client.SendMessage(ctx, ts.URL, SendMessageRequest{})
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInternal, rpcErr.Code)
}

func TestServer_MalformedRequests(t *testing.T) {
	ts := newTestServer(t, &mockHandler{})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{not json`, ErrCodeParse},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"tasks/get"}`, ErrCodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"tasks/list"}`, ErrCodeMethodNotFound},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"tasks/get","params":[1,2]}`, ErrCodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rawCall(t, ts.URL, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := NewServer(testCard, &mockHandler{})
	require.NoError(t, srv.Start(context.Background(), "127.0.0.1:0"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	assert.NoError(t, NewServer(testCard, nil).Stop(ctx))
}

package a2a

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_SendsJSONRPCEnvelope(t *testing.T) {
	var got JSONRPCRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSONRPCResult(w, got.ID, Task{ID: "t1", Status: TaskStatus{State: TaskStateWorking}})
	}))
	defer ts.Close()

	task, err := NewHTTPClient().GetTask(context.Background(), ts.URL, GetTaskRequest{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	assert.Equal(t, JSONRPCVersion, got.JSONRPC)
	assert.Equal(t, MethodGetTask, got.Method)
	assert.JSONEq(t, `{"id":"t1"}`, string(got.Params))
}

func TestHTTPClient_HTTPStatusErrors(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusInternalServerError, false},
		{http.StatusBadRequest, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer ts.Close()

			_, err := NewHTTPClient().SendMessage(context.Background(), ts.URL, SendMessageRequest{})
			var httpErr *HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.temporary, IsTemporary(err))
		})
	}
}

func TestHTTPClient_TimeoutIsTemporary(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	_, err := NewHTTPClient(WithTimeout(50*time.Millisecond)).
		SendMessage(context.Background(), ts.URL, SendMessageRequest{})
	require.Error(t, err)
	assert.True(t, IsTemporary(err))
}

func TestHTTPClient_RPCErrorIsNotTemporary(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONRPCError(w, 1, ErrCodeInvalidParams, "bad")
	}))
	defer ts.Close()

	_, err := NewHTTPClient().SendMessage(context.Background(), ts.URL, SendMessageRequest{})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrCodeInvalidParams, rpcErr.Code)
	assert.False(t, IsTemporary(err))
	assert.Contains(t, err.Error(), "message/send")
}

func TestTask_FirstDataAndStatusText(t *testing.T) {
	task := Task{ID: "t"}
	_, err := task.FirstData()
	assert.Error(t, err)
	assert.Empty(t, task.StatusText())

	part, err := DataPart(map[string]int{"rows": 3})
	require.NoError(t, err)
	task.Artifacts = []Artifact{{ArtifactID: "a", Parts: []Part{TextPart("x"), part}}}
	task.Status.Message = &Message{Role: RoleAgent, Parts: []Part{TextPart("done")}}

	data, err := task.FirstData()
	require.NoError(t, err)
	assert.Equal(t, float64(3), data["rows"])
	assert.Equal(t, "done", task.StatusText())
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dusk-indust/conductor/internal/a2a"
	"github.com/dusk-indust/conductor/internal/agent"
	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestServer(t *testing.T) (*Client, *httptest.Server, *agent.Registry) {
	t.Helper()
	reg := agent.NewRegistry()
	engine := orchestrator.NewEngine(orchestrator.Config{
		StageTimeout:    2 * time.Second,
		BackoffBase:     time.Millisecond,
		BackoffMax:      5 * time.Millisecond,
		DecisionTimeout: time.Minute,
	}, orchestrator.NewRouter(reg))
	t.Cleanup(engine.Close)

	srv := NewServer(engine, WithKeepAlive(10*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, nil), ts, reg
}

// drain collects stream items until the channel closes.
func drain(t *testing.T, ch <-chan StreamItem, onEvent func(orchestrator.Event)) []orchestrator.Event {
	t.Helper()
	var events []orchestrator.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case item, ok := <-ch:
			if !ok {
				return events
			}
			require.NoError(t, item.Err)
			events = append(events, item.Event)
			if onEvent != nil {
				onEvent(item.Event)
			}
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(events))
		}
	}
}

func kindsOf(events []orchestrator.Event) []orchestrator.EventKind {
	out := make([]orchestrator.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestServer_LookupOverHTTP(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()

	id, err := client.StartSession(ctx)
	require.NoError(t, err)

	stream, err := client.Events(ctx, id)
	require.NoError(t, err)
	require.NoError(t, client.SubmitInput(ctx, id, orchestrator.TextInput("What is the unit cost of rebar?")))

	events := drain(t, stream, nil)
	assert.Equal(t, []orchestrator.EventKind{
		orchestrator.EventStageStarted,
		orchestrator.EventStageCompleted,
		orchestrator.EventWorkflowCompleted,
	}, kindsOf(events))
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	st, err := client.State(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.PhaseComplete, st.Phase)
	assert.Equal(t, orchestrator.IntentSimpleLookup, st.Intent)
	assert.Equal(t, "What is the unit cost of rebar?", st.Outputs[orchestrator.StageLookup].Data["query"])
}

func TestServer_DecisionOverHTTP(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()

	id, err := client.StartSession(ctx)
	require.NoError(t, err)
	stream, err := client.Events(ctx, id)
	require.NoError(t, err)

	require.NoError(t, client.SubmitInput(ctx, id, orchestrator.Input{Kind: orchestrator.InputFile, Content: "blob://1", Name: "E-101 lighting.pdf"}))
	require.NoError(t, client.SubmitInput(ctx, id, orchestrator.Input{Kind: orchestrator.InputFile, Content: "blob://2", Name: "A-201 plan.pdf"}))

	var outcomes []orchestrator.Outcome
	events := drain(t, stream, func(ev orchestrator.Event) {
		if ev.Kind != orchestrator.EventDecisionNeeded {
			return
		}
		resp := orchestrator.Response{Action: orchestrator.ActionSelect, Data: map[string]any{"files": []any{"E-101 lighting.pdf"}}}
		for i := 0; i < 2; i++ {
			out, err := client.ResolveDecision(ctx, id, ev.RequestID, resp)
			require.NoError(t, err)
			outcomes = append(outcomes, out)
		}
	})

	require.Len(t, outcomes, 2)
	assert.Equal(t, outcomes[0], outcomes[1], "resolve is idempotent over the wire")
	assert.Contains(t, kindsOf(events), orchestrator.EventDecisionResolved)
	assert.Equal(t, orchestrator.EventWorkflowCompleted, events[len(events)-1].Kind)

	st, err := client.State(ctx, id)
	require.NoError(t, err)
	items := st.Outputs[orchestrator.StageClassifyTrades].Data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "electrical", items[0].(map[string]any)["trade"])
}

func TestServer_ControlRejections(t *testing.T) {
	client, ts, _ := newTestServer(t)
	ctx := context.Background()

	_, err := client.State(ctx, "missing")
	assert.ErrorIs(t, err, orchestrator.ErrSessionNotFound)
	_, err = client.Events(ctx, "missing")
	assert.ErrorIs(t, err, orchestrator.ErrSessionNotFound)

	_, err = client.StartSession(ctx, orchestrator.Input{Kind: "video", Content: "x"})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	id, err := client.StartSession(ctx)
	require.NoError(t, err)
	_, err = client.ResolveDecision(ctx, id, "no-such-request", orchestrator.Response{Action: "continue"})
	assert.ErrorIs(t, err, orchestrator.ErrDecisionMismatch)

	require.NoError(t, client.CancelSession(ctx, id))
	require.Eventually(t, func() bool {
		st, err := client.State(ctx, id)
		return err == nil && st.Phase == orchestrator.PhaseFailed
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, client.SubmitInput(ctx, id, orchestrator.TextInput("more")), orchestrator.ErrSessionTerminal)
	assert.ErrorIs(t, client.CancelSession(ctx, id), orchestrator.ErrSessionTerminal)

	require.NoError(t, client.CloseSession(ctx, id))
	assert.ErrorIs(t, client.CloseSession(ctx, id), orchestrator.ErrSessionNotFound)

	resp, err := http.Post(ts.URL+RPCPath, "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":7,"method":"session/explode"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	var rpcResp a2a.JSONRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, a2a.ErrCodeMethodNotFound, rpcResp.Error.Code)
}

func TestServer_RawErrorCodes(t *testing.T) {
	_, ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse", `{`, a2a.ErrCodeParse},
		{"version", `{"jsonrpc":"1.0","method":"session/get"}`, a2a.ErrCodeInvalidRequest},
		{"bad params", `{"jsonrpc":"2.0","id":1,"method":"session/get","params":"x"}`, a2a.ErrCodeInvalidParams},
		{"not found", `{"jsonrpc":"2.0","id":1,"method":"session/get","params":{"sessionId":"nope"}}`, ErrCodeSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+RPCPath, "application/json", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			var out a2a.JSONRPCResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.code, out.Error.Code)
		})
	}
}

func TestServer_ListSessions(t *testing.T) {
	client, _, _ := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.StartSession(ctx)
		require.NoError(t, err)
	}

	page, err := client.List(ctx, orchestrator.ListRequest{PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, page.Sessions, 2)
	assert.Equal(t, 3, page.TotalSize)
	require.NotEmpty(t, page.NextPageToken)

	rest, err := client.List(ctx, orchestrator.ListRequest{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	assert.Len(t, rest.Sessions, 1)
}

func TestServer_MountAndHealth(t *testing.T) {
	reg := agent.NewRegistry()
	engine := orchestrator.NewEngine(orchestrator.Config{}, orchestrator.NewRouter(reg))
	t.Cleanup(engine.Close)

	host := agent.NewHost(reg, reg.Stages(), 8)
	srv := NewServer(engine)
	srv.Mount("/a2a/", a2a.NewServer(host.Card("/a2a", "test"), host).Handler())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	card, err := a2a.NewHTTPClient().DiscoverAgent(context.Background(), ts.URL+"/a2a")
	require.NoError(t, err)
	assert.Len(t, card.Skills, 8)

	id, err := engine.StartSession(context.Background())
	require.NoError(t, err)
	sub, err := engine.Subscribe(id)
	require.NoError(t, err)
	defer sub.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"status":"ok","stats":{"sessions":1,"subscribers":1,"phases":{"intake":1}}}`, string(body))
}

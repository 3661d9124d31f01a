package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cartsync/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type writeBacks struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (w *writeBacks) WriteBack(_ context.Context, id string, outcome types.Outcome) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, id+":"+string(outcome))
	return w.err
}

func (w *writeBacks) list() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

func newTestRegistry(t *testing.T, wb *writeBacks, inspect func(context.Context, string) (types.ProductInfo, error)) (*Registry, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRegistry(zap.New(core))
	RegisterDefaults(r, Deps{WriteBack: wb.WriteBack, Inspect: inspect})
	return r, logs
}

func TestRegisterDefaults_Kinds(t *testing.T) {
	r, _ := newTestRegistry(t, &writeBacks{}, nil)
	assert.Equal(t, []Kind{KindActionError, KindActionSuccess, KindGetProductInfo}, r.Kinds())
}

func TestReply_ImmediateAndFuture(t *testing.T) {
	v, err := Immediate(42).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.False(t, Immediate(1).Pending())

	ch := make(chan Result, 1)
	f := Future(ch)
	assert.True(t, f.Pending())
	ch <- Result{Value: "later"}
	v, err = f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "later", v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Future(make(chan Result)).Await(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatch_ActionSuccessWritesBack(t *testing.T) {
	wb := &writeBacks{}
	r, _ := newTestRegistry(t, wb, nil)

	v, err := r.Dispatch(context.Background(), Message{Action: KindActionSuccess, TaskID: "page-1"}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ack{Success: true}, v)

	r.Wait()
	assert.Equal(t, []string{"page-1:completed_verified"}, wb.list())
}

func TestDispatch_WriteBackFailureIsLogged(t *testing.T) {
	wb := &writeBacks{err: errors.New("store down")}
	r, logs := newTestRegistry(t, wb, nil)

	v, err := r.Dispatch(context.Background(), Message{Action: KindActionSuccess, TaskID: "page-1"}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ack{Success: true}, v)

	r.Wait()
	assert.Equal(t, 1, logs.FilterMessage("write-back from event failed").Len())
}

func TestDispatch_ActionErrorAcknowledgesFalse(t *testing.T) {
	wb := &writeBacks{}
	r, logs := newTestRegistry(t, wb, nil)

	v, err := r.Dispatch(context.Background(), Message{Action: KindActionError, TaskID: "page-2", Error: "button missing"}).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ack{Success: false}, v)
	assert.Empty(t, wb.list())

	entries := logs.FilterMessage("cart action reported failure").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "button missing", entries[0].ContextMap()["error"])
}

func TestDispatch_GetProductInfo(t *testing.T) {
	inspect := func(_ context.Context, id string) (types.ProductInfo, error) {
		if id == "bad" {
			return types.ProductInfo{}, errors.New("gone")
		}
		return types.ProductInfo{ASIN: "B000000001", Title: "Go"}, nil
	}
	r, _ := newTestRegistry(t, &writeBacks{}, inspect)
	ctx := context.Background()

	reply := r.Dispatch(ctx, Message{Action: KindGetProductInfo, SurfaceID: "s1"})
	assert.True(t, reply.Pending())
	v, err := reply.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ProductInfo{ASIN: "B000000001", Title: "Go"}, v)

	_, err = r.Dispatch(ctx, Message{Action: KindGetProductInfo, SurfaceID: "bad"}).Await(ctx)
	assert.Error(t, err)

	v, err = r.Dispatch(ctx, Message{Action: KindGetProductInfo}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ack{Success: true}, v)
	r.Wait()
}

func TestDispatch_Rejections(t *testing.T) {
	r, _ := newTestRegistry(t, &writeBacks{}, nil)
	ctx := context.Background()

	_, err := r.Dispatch(ctx, Message{Action: KindActionSuccess}).Await(ctx)
	assert.ErrorIs(t, err, ErrInvalid, "taskId is required")

	_, err = r.Dispatch(ctx, Message{Action: "refund", TaskID: "x"}).Await(ctx)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = r.HandleRaw(ctx, []byte("{oops"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRegister_Replaces(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("custom", func(context.Context, Message) Reply { return Immediate("first") })
	r.Register("custom", func(context.Context, Message) Reply { return Immediate("second") })

	v, err := r.HandleRaw(context.Background(), []byte(`{"action":"custom","taskId":"t"}`))
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	assert.Equal(t, []Kind{"custom"}, r.Kinds())
}

func TestServer_Routes(t *testing.T) {
	wb := &writeBacks{}
	r, _ := newTestRegistry(t, wb, nil)
	status := func(context.Context) interface{} {
		return map[string]int{"ledger_size": 3}
	}
	srv := httptest.NewServer(NewServer("127.0.0.1:0", r, status, nil).Handler())
	defer srv.Close()

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
		wantBody string
	}{
		{"success event", "POST", "/events", `{"action":"actionSuccess","taskId":"p1"}`, 200, `{"success":true}`},
		{"error event", "POST", "/events", `{"action":"actionError","taskId":"p1","error":"x"}`, 200, `{"success":false}`},
		{"missing task id", "POST", "/events", `{"action":"actionSuccess"}`, 400, ""},
		{"unknown kind", "POST", "/events", `{"action":"refund","taskId":"p1"}`, 404, ""},
		{"bad json", "POST", "/events", `not json`, 400, `{"error":"invalid JSON body"}`},
		{"status", "GET", "/status", "", 200, `{"ledger_size":3}`},
		{"health", "GET", "/healthz", "", 200, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantCode, resp.StatusCode)
			if tt.wantBody != "" {
				var got, want interface{}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
				require.NoError(t, json.Unmarshal([]byte(tt.wantBody), &want))
				assert.Equal(t, want, got)
			}
		})
	}

	r.Wait()
	assert.Equal(t, []string{"p1:completed_verified"}, wb.list())
	http.DefaultClient.CloseIdleConnections()
}

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewRegistry(nil), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

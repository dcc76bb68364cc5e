package rpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-platform/internal/action"
	"anchor-platform/internal/domain"
	"anchor-platform/internal/errors"
	"anchor-platform/internal/repository"
)

type fakeAction struct {
	method action.Method
	fn     func(ctx context.Context, raw json.RawMessage) (*domain.Transaction, error)
}

func (a fakeAction) Method() action.Method { return a.method }

func (a fakeAction) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	txn, err := a.fn(ctx, raw)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func succeed(context.Context, json.RawMessage) (*domain.Transaction, error) {
	return &domain.Transaction{Status: domain.StatusCompleted}, nil
}

func newService(t *testing.T, limit int, actions ...action.Action) *Service {
	t.Helper()
	registry, err := action.NewRegistry(actions...)
	require.NoError(t, err)
	return NewService(registry, limit, 4, slogt.New(t))
}

func request(id, method, txnID string) Request {
	return Request{
		JSONRPC: Version,
		ID:      json.RawMessage(id),
		Method:  method,
		Params:  json.RawMessage(`{"transaction_id":"` + txnID + `"}`),
	}
}

func TestBatchSizeLimit(t *testing.T) {
	svc := newService(t, 2, fakeAction{method: "ping", fn: succeed})

	resps := svc.Handle(context.Background(), []Request{
		request(`1`, "ping", "a"), request(`2`, "ping", "b"), request(`3`, "ping", "c"),
	})

	require.Len(t, resps, 1)
	assert.Nil(t, resps[0].ID)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, errors.RPCInvalidRequest, resps[0].Error.Code)
	assert.Equal(t, "RPC batch size limit[2] exceeded", resps[0].Error.Message)

	raw, err := json.Marshal(resps[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":null`)
}

func TestRequestValidation(t *testing.T) {
	svc := newService(t, 10, fakeAction{method: "ping", fn: succeed})
	tests := []struct {
		name    string
		req     Request
		message string
	}{
		{"version", Request{JSONRPC: "1.0", ID: json.RawMessage(`1`), Method: "ping"}, "Unsupported JSON-RPC protocol version[1.0]"},
		{"method", Request{JSONRPC: Version, ID: json.RawMessage(`1`)}, "Method name can't be NULL or empty"},
		{"missing id", Request{JSONRPC: Version, Method: "ping"}, "Id can't be NULL"},
		{"null id", Request{JSONRPC: Version, ID: json.RawMessage(`null`), Method: "ping"}, "Id can't be NULL"},
		{"object id", Request{JSONRPC: Version, ID: json.RawMessage(`{"a":1}`), Method: "ping"}, "An identifier MUST contain a String or a Number"},
		{"bool id", Request{JSONRPC: Version, ID: json.RawMessage(`true`), Method: "ping"}, "An identifier MUST contain a String or a Number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resps := svc.Handle(context.Background(), []Request{tt.req})
			require.Len(t, resps, 1)
			require.NotNil(t, resps[0].Error)
			assert.Equal(t, errors.RPCInvalidRequest, resps[0].Error.Code)
			assert.Equal(t, tt.message, resps[0].Error.Message)
		})
	}
}

func TestUnknownMethodOnlyFailsItsItem(t *testing.T) {
	svc := newService(t, 10, fakeAction{method: "ping", fn: succeed})

	resps := svc.Handle(context.Background(), []Request{
		request(`"a"`, "pong", "t1"),
		request(`"b"`, "ping", "t2"),
	})

	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, errors.RPCMethodNotFound, resps[0].Error.Code)
	assert.JSONEq(t, `"a"`, string(resps[0].ID))
	assert.Nil(t, resps[1].Error)
	assert.JSONEq(t, `"b"`, string(resps[1].ID))
}

func TestPanicIsIsolated(t *testing.T) {
	svc := newService(t, 10,
		fakeAction{method: "boom", fn: func(context.Context, json.RawMessage) (*domain.Transaction, error) {
			panic("nil map")
		}},
		fakeAction{method: "ping", fn: succeed},
	)

	resps := svc.Handle(context.Background(), []Request{
		request(`1`, "boom", "t1"),
		request(`2`, "ping", "t2"),
	})

	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, errors.RPCInternalError, resps[0].Error.Code)
	assert.Nil(t, resps[1].Error)
}

func TestErrorMapping(t *testing.T) {
	svc := newService(t, 10,
		fakeAction{method: "illegal", fn: func(context.Context, json.RawMessage) (*domain.Transaction, error) {
			return nil, errors.NewAppError(errors.IllegalTransition, "no").WithDetails("status[completed]")
		}},
		fakeAction{method: "broken", fn: func(context.Context, json.RawMessage) (*domain.Transaction, error) {
			return nil, stderrors.New("connection reset")
		}},
	)

	resps := svc.Handle(context.Background(), []Request{
		request(`1`, "illegal", "t1"),
		request(`2`, "broken", "t2"),
	})

	require.NotNil(t, resps[0].Error)
	assert.Equal(t, errors.RPCIllegalTransition, resps[0].Error.Code)
	assert.Equal(t, "status[completed]", resps[0].Error.Data)
	require.NotNil(t, resps[1].Error)
	assert.Equal(t, errors.RPCInternalError, resps[1].Error.Code)
	assert.Equal(t, "internal error", resps[1].Error.Message)
}

func TestSameTransactionRunsInOrder(t *testing.T) {
	var (
		mu       sync.Mutex
		seen     = map[string][]string{}
		inFlight = map[string]*atomic.Int32{"A": {}, "B": {}}
		overlap  atomic.Bool
	)
	record := func(_ context.Context, raw json.RawMessage) (*domain.Transaction, error) {
		var p struct {
			TransactionID string `json:"transaction_id"`
			Step          string `json:"step"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if inFlight[p.TransactionID].Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[p.TransactionID] = append(seen[p.TransactionID], p.Step)
		mu.Unlock()
		inFlight[p.TransactionID].Add(-1)
		return &domain.Transaction{}, nil
	}
	svc := newService(t, 10, fakeAction{method: "step", fn: record})

	step := func(id, txn, name string) Request {
		return Request{
			JSONRPC: Version,
			ID:      json.RawMessage(id),
			Method:  "step",
			Params:  json.RawMessage(`{"transaction_id":"` + txn + `","step":"` + name + `"}`),
		}
	}
	resps := svc.Handle(context.Background(), []Request{
		step(`1`, "A", "a1"), step(`2`, "B", "b1"), step(`3`, "A", "a2"),
		step(`4`, "B", "b2"), step(`5`, "A", "a3"),
	})

	require.Len(t, resps, 5)
	for i, r := range resps {
		assert.Nil(t, r.Error)
		assert.JSONEq(t, string(rune('1'+i)), string(r.ID))
	}
	assert.Equal(t, []string{"a1", "a2", "a3"}, seen["A"])
	assert.Equal(t, []string{"b1", "b2"}, seen["B"])
	assert.False(t, overlap.Load())
}

func TestBatchWithMalformedTransactionID(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository(slogt.New(t))
	p := action.NewProcessor(action.Options{Repo: repo, Logger: slogt.New(t)})
	registry, err := action.NewDefaultRegistry(p)
	require.NoError(t, err)
	svc := NewService(registry, 10, 2, slogt.New(t))

	seed := func(status domain.Status) uuid.UUID {
		txn, err := domain.NewTransaction(domain.NewTransactionParams{
			Protocol: domain.ProtocolSEP24,
			Kind:     domain.KindDeposit,
		}, time.Now().UTC())
		require.NoError(t, err)
		txn.Status = status
		require.NoError(t, repo.CreateTransaction(ctx, txn))
		return txn.ID
	}
	open := seed(domain.StatusPendingAnchor)
	done := seed(domain.StatusCompleted)
	expire := func(id, txnID string) Request {
		return Request{
			JSONRPC: Version,
			ID:      json.RawMessage(id),
			Method:  string(action.MethodNotifyTransactionExpired),
			Params:  json.RawMessage(`{"transaction_id":"` + txnID + `","message":"timed out"}`),
		}
	}

	resps := svc.Handle(ctx, []Request{
		expire(`"1"`, open.String()),
		expire(`"2"`, "not-a-uuid"),
		expire(`"3"`, done.String()),
	})

	require.Len(t, resps, 3)
	assert.Nil(t, resps[0].Error)
	assert.Equal(t, domain.StatusExpired, resps[0].Result.(*domain.Transaction).Status)
	require.NotNil(t, resps[1].Error)
	assert.Equal(t, errors.RPCInvalidParams, resps[1].Error.Code)
	require.NotNil(t, resps[2].Error)
	assert.Equal(t, errors.RPCIllegalTransition, resps[2].Error.Code)
	for i, r := range resps {
		assert.JSONEq(t, `"`+string(rune('1'+i))+`"`, string(r.ID))
	}
}

func TestDecode(t *testing.T) {
	reqs, errResp := Decode([]byte(` {"jsonrpc":"2.0","id":1,"method":"ping","params":{}}`))
	require.Nil(t, errResp)
	require.Len(t, reqs, 1)
	assert.Equal(t, "ping", reqs[0].Method)

	reqs, errResp = Decode([]byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","id":"x","method":"b"}]`))
	require.Nil(t, errResp)
	require.Len(t, reqs, 2)
	assert.JSONEq(t, `"x"`, string(reqs[1].ID))

	_, errResp = Decode([]byte(`[{"jsonrpc":`))
	require.NotNil(t, errResp)
	assert.Equal(t, codeParseError, errResp.Error.Code)
}

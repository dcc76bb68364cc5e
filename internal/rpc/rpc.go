// Package rpc dispatches batches of JSON-RPC 2.0 action requests to the action registry.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"anchor-platform/internal/action"
	"anchor-platform/internal/errors"
)

const (
	Version = "2.0"

	codeParseError = -32700
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, code int, format string, args ...any) Response {
	return Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// Decode parses a request body holding either one request object or an array of them.
// A body that is not valid JSON yields a single parse-error response instead of requests.
func Decode(body []byte) ([]Request, *Response) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var reqs []Request
		if err := json.Unmarshal(body, &reqs); err != nil {
			resp := errorResponse(nil, codeParseError, "Parse error: %v", err)
			return nil, &resp
		}
		return reqs, nil
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		resp := errorResponse(nil, codeParseError, "Parse error: %v", err)
		return nil, &resp
	}
	return []Request{req}, nil
}

type Service struct {
	registry    *action.Registry
	batchLimit  int
	concurrency int
	logger      *slog.Logger
}

func NewService(registry *action.Registry, batchLimit, concurrency int, logger *slog.Logger) *Service {
	return &Service{
		registry:    registry,
		batchLimit:  batchLimit,
		concurrency: max(concurrency, 1),
		logger:      logger,
	}
}

// Handle executes reqs and returns one response per request in input order. Requests for
// the same transaction run one after another; distinct transactions run concurrently.
func (s *Service) Handle(ctx context.Context, reqs []Request) []Response {
	if s.batchLimit > 0 && len(reqs) > s.batchLimit {
		s.logger.Warn("RPC batch rejected", "size", len(reqs), "limit", s.batchLimit)
		return []Response{errorResponse(nil, errors.RPCInvalidRequest, "RPC batch size limit[%d] exceeded", s.batchLimit)}
	}

	responses := make([]Response, len(reqs))
	actions := make([]action.Action, len(reqs))
	groups := make(map[string][]int)
	var order []string

	for i, req := range reqs {
		if resp, ok := validate(req); !ok {
			responses[i] = resp
			continue
		}
		a, ok := s.registry.Lookup(req.Method)
		if !ok {
			responses[i] = errorResponse(req.ID, errors.RPCMethodNotFound, "RPC method[%s] not found", req.Method)
			continue
		}
		actions[i] = a
		key := groupKey(req.Params, i)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, key := range order {
		idxs := groups[key]
		g.Go(func() error {
			for _, i := range idxs {
				responses[i] = s.execute(ctx, reqs[i], actions[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return responses
}

func (s *Service) execute(ctx context.Context, req Request, a action.Action) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic while executing RPC request",
				"method", req.Method, "id", string(req.ID), "panic", r, "stack", string(debug.Stack()))
			resp = errorResponse(req.ID, errors.RPCInternalError, "internal error")
		}
	}()

	result, err := a.Execute(ctx, req.Params)
	if err != nil {
		return Response{JSONRPC: Version, ID: req.ID, Error: s.toError(req, err)}
	}
	return Response{JSONRPC: Version, ID: req.ID, Result: result}
}

func (s *Service) toError(req Request, err error) *Error {
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code == errors.InternalError {
		s.logger.Error("RPC request failed", "method", req.Method, "id", string(req.ID), "error", err)
		return &Error{Code: errors.RPCInternalError, Message: "internal error"}
	}
	s.logger.Warn("RPC request rejected", "method", req.Method, "id", string(req.ID), "code", appErr.Code, "error", appErr.Message)
	e := &Error{Code: appErr.RPCCode(), Message: appErr.Message}
	if appErr.Details != "" {
		e.Data = appErr.Details
	}
	return e
}

func validate(req Request) (Response, bool) {
	if req.JSONRPC != Version {
		return errorResponse(req.ID, errors.RPCInvalidRequest, "Unsupported JSON-RPC protocol version[%s]", req.JSONRPC), false
	}
	if req.Method == "" {
		return errorResponse(req.ID, errors.RPCInvalidRequest, "Method name can't be NULL or empty"), false
	}
	id := bytes.TrimSpace(req.ID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return errorResponse(nil, errors.RPCInvalidRequest, "Id can't be NULL"), false
	}
	var v any
	if err := json.Unmarshal(id, &v); err != nil {
		return errorResponse(nil, errors.RPCInvalidRequest, "An identifier MUST contain a String or a Number"), false
	}
	switch v.(type) {
	case string, float64:
		return Response{}, true
	}
	return errorResponse(nil, errors.RPCInvalidRequest, "An identifier MUST contain a String or a Number"), false
}

// groupKey returns the transaction id the request targets. Requests without a readable id
// get a key of their own; they fail validation inside the action anyway.
func groupKey(params json.RawMessage, index int) string {
	var p struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TransactionID == "" {
		return fmt.Sprintf("#%d", index)
	}
	return p.TransactionID
}

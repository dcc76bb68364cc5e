package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"anchor-platform/internal/errors"
	"anchor-platform/internal/rpc"
)

// maxActionBody bounds a single RPC request body.
const maxActionBody = 1 << 20

type ActionHandler struct {
	rpc *rpc.Service
}

func NewActionHandler(rpcService *rpc.Service) *ActionHandler {
	return &ActionHandler{rpc: rpcService}
}

// Handle serves POST /actions. The body is a single JSON-RPC request or a batch; the
// reply is always an array of responses in request order with HTTP 200.
func (h *ActionHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxActionBody))
	if err != nil {
		writeError(w, errors.NewAppError(errors.InvalidRequest, "invalid request body").WithDetails(err.Error()))
		return
	}

	var responses []rpc.Response
	reqs, parseErr := rpc.Decode(body)
	if parseErr != nil {
		responses = []rpc.Response{*parseErr}
	} else {
		responses = h.rpc.Handle(r.Context(), reqs)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(responses)
}

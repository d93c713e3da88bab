// Package handler exposes the source chain over the admin HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/devrev/pairdb/ledger-node/internal/chain"
	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/middleware"
	"github.com/devrev/pairdb/ledger-node/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

const (
	// DefaultPageSize is used when a listing does not name a limit
	DefaultPageSize = 100
	// MaxPageSize caps the limit of a single listing
	MaxPageSize = 1000
	// maxBodyBytes bounds an append request body
	maxBodyBytes = 4 << 20
)

// ChainHandler serves the source chain endpoints
type ChainHandler struct {
	chainService *service.SourceChainService
	logger       *zap.Logger
}

// NewChainHandler creates a new chain handler
func NewChainHandler(chainSvc *service.SourceChainService, logger *zap.Logger) *ChainHandler {
	return &ChainHandler{
		chainService: chainSvc,
		logger:       logger,
	}
}

// ItemResponse is the wire form of a chain item
type ItemResponse struct {
	Index               uint32 `json:"index"`
	Batch               uint32 `json:"batch"`
	HeaderAddress       string `json:"header_address"`
	ReplicationComplete bool   `json:"replication_complete"`
}

// HeadResponse reports the chain head
type HeadResponse struct {
	Head    string `json:"head,omitempty"`
	HasHead bool   `json:"has_head"`
}

// ItemsResponse is one page of a chain listing
type ItemsResponse struct {
	Items []ItemResponse `json:"items"`
	// Next is the index to resume from, absent on the last page
	Next *uint32 `json:"next,omitempty"`
}

// AppendRequest commits header addresses as one batch
type AppendRequest struct {
	HeaderAddresses []string `json:"header_addresses"`
}

// AppendResponse describes the batch an append produced
type AppendResponse struct {
	CommitID string         `json:"commit_id"`
	Batch    uint32         `json:"batch"`
	Head     string         `json:"head"`
	Attempts int            `json:"attempts"`
	Items    []ItemResponse `json:"items"`
}

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// RegisterRoutes mounts the chain endpoints on r
func (h *ChainHandler) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/v1/chain").Subrouter()
	v1.HandleFunc("/head", h.Head).Methods(http.MethodGet)
	v1.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/items", h.Items).Methods(http.MethodGet)
	v1.HandleFunc("/items/{index}", h.Item).Methods(http.MethodGet)
	v1.HandleFunc("/headers", h.Append).Methods(http.MethodPost)
}

// Head handles GET /v1/chain/head
func (h *ChainHandler) Head(w http.ResponseWriter, r *http.Request) {
	head, ok, err := h.chainService.Head(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HeadResponse{Head: string(head), HasHead: ok})
}

// Stats handles GET /v1/chain/stats
func (h *ChainHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.chainService.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Items handles GET /v1/chain/items?from=&limit=
func (h *ChainHandler) Items(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseIndex(query.Get("from"))
	if err != nil {
		h.writeError(w, r, errors.InvalidArgument("from must be a chain index", err).WithDetail("from", query.Get("from")))
		return
	}

	limit := DefaultPageSize
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, r, errors.InvalidArgument("limit must be a positive integer", err).WithDetail("limit", raw))
			return
		}
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	// one extra item tells us whether a next page exists
	items, err := h.chainService.Items(r.Context(), from, limit+1)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := ItemsResponse{}
	if len(items) > limit {
		next := items[limit].Index
		resp.Next = &next
		items = items[:limit]
	}
	resp.Items = toItemResponses(items)
	writeJSON(w, http.StatusOK, resp)
}

// Item handles GET /v1/chain/items/{index}
func (h *ChainHandler) Item(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["index"]
	index, err := parseIndex(raw)
	if err != nil {
		h.writeError(w, r, errors.InvalidArgument("index must be a chain index", err).WithDetail("index", raw))
		return
	}

	it, err := h.chainService.Item(r.Context(), index)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(it))
}

// Append handles POST /v1/chain/headers
func (h *ChainHandler) Append(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, errors.InvalidArgument("malformed request body", err))
		return
	}

	addrs := make([]chain.HeaderAddress, len(req.HeaderAddresses))
	for i, a := range req.HeaderAddresses {
		addrs[i] = chain.HeaderAddress(a)
	}

	result, err := h.chainService.AppendHeaders(r.Context(), addrs...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AppendResponse{
		CommitID: result.CommitID,
		Batch:    result.Batch,
		Head:     string(result.Head),
		Attempts: result.Attempts,
		Items:    toItemResponses(result.Items),
	})
}

func (h *ChainHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := HTTPStatus(err)
	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errors.GetCode(err).String(),
		Message:   err.Error(),
		RequestID: middleware.GetRequestID(r.Context()),
	}

	if se, ok := errors.AsStorageError(err); ok {
		resp.Message = se.Message
		if len(se.Details) > 0 {
			resp.Details = se.Details
		}
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	} else {
		h.logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	}

	writeJSON(w, statusCode, resp)
}

// HTTPStatus maps an error to the HTTP status the API answers with
func HTTPStatus(err error) int {
	switch errors.GRPCCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Aborted:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusInsufficientStorage
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Canceled:
		return http.StatusRequestTimeout
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseIndex(raw string) (uint32, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func toItemResponse(it chain.Item) ItemResponse {
	return ItemResponse{
		Index:               it.Index,
		Batch:               it.Batch,
		HeaderAddress:       string(it.HeaderAddress),
		ReplicationComplete: it.ReplicationComplete,
	}
}

func toItemResponses(items []chain.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItemResponse(it))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"github.com/devrev/pairdb/ledger-node/internal/kv/kvtest"
	"github.com/devrev/pairdb/ledger-node/internal/middleware"
	"github.com/devrev/pairdb/ledger-node/internal/service"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc := service.NewSourceChainService(&service.SourceChainConfig{
		MaxCommitRetries:     3,
		MaxHeaderAddressSize: 64,
	}, kvtest.NewEnv(t), nil, nil, zap.NewNop())

	r := mux.NewRouter()
	NewChainHandler(svc, zap.NewNop()).RegisterRoutes(r)
	return middleware.RequestID(r)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func appendHeaders(t *testing.T, h http.Handler, addrs ...string) AppendResponse {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/chain/headers", AppendRequest{HeaderAddresses: addrs})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AppendResponse](t, rec)
}

func TestChainHandler_HeadOfEmptyChain(t *testing.T) {
	h := newRouter(t)

	rec := do(t, h, http.MethodGet, "/v1/chain/head", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	head := decode[HeadResponse](t, rec)
	assert.False(t, head.HasHead)
	assert.Empty(t, head.Head)
}

func TestChainHandler_AppendAndRead(t *testing.T) {
	h := newRouter(t)

	first := appendHeaders(t, h, "h0", "h1")
	assert.Equal(t, uint32(0), first.Batch)
	assert.Equal(t, "h1", first.Head)
	assert.Equal(t, 1, first.Attempts)
	assert.NotEmpty(t, first.CommitID)
	require.Len(t, first.Items, 2)
	assert.Equal(t, uint32(1), first.Items[1].Index)

	second := appendHeaders(t, h, "h2")
	assert.Equal(t, uint32(1), second.Batch)

	head := decode[HeadResponse](t, do(t, h, http.MethodGet, "/v1/chain/head", nil))
	assert.True(t, head.HasHead)
	assert.Equal(t, "h2", head.Head)

	rec := do(t, h, http.MethodGet, "/v1/chain/items/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	it := decode[ItemResponse](t, rec)
	assert.Equal(t, ItemResponse{Index: 1, Batch: 0, HeaderAddress: "h1"}, it)

	stats := decode[service.ChainStats](t, do(t, h, http.MethodGet, "/v1/chain/stats", nil))
	assert.Equal(t, uint32(3), stats.Length)
	assert.Equal(t, uint32(1), stats.LastBatch)
	assert.Equal(t, 3, stats.PendingReplication)
}

func TestChainHandler_ItemsPaging(t *testing.T) {
	h := newRouter(t)
	appendHeaders(t, h, "a", "b", "c", "d", "e")

	page := decode[ItemsResponse](t, do(t, h, http.MethodGet, "/v1/chain/items?from=1&limit=2", nil))
	require.Len(t, page.Items, 2)
	assert.Equal(t, "b", page.Items[0].HeaderAddress)
	assert.Equal(t, "c", page.Items[1].HeaderAddress)
	require.NotNil(t, page.Next)
	assert.Equal(t, uint32(3), *page.Next)

	last := decode[ItemsResponse](t, do(t, h, http.MethodGet, "/v1/chain/items?from=3", nil))
	require.Len(t, last.Items, 2)
	assert.Nil(t, last.Next)

	empty := decode[ItemsResponse](t, do(t, h, http.MethodGet, "/v1/chain/items?from=99", nil))
	assert.Empty(t, empty.Items)
	assert.Nil(t, empty.Next)
}

func TestChainHandler_Errors(t *testing.T) {
	h := newRouter(t)
	appendHeaders(t, h, "a")

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   errors.ErrorCode
	}{
		{"missing item", http.MethodGet, "/v1/chain/items/5", nil, http.StatusNotFound, errors.ErrCodeItemNotFound},
		{"bad index", http.MethodGet, "/v1/chain/items/x", nil, http.StatusBadRequest, errors.ErrCodeInvalidArgument},
		{"bad from", http.MethodGet, "/v1/chain/items?from=-1", nil, http.StatusBadRequest, errors.ErrCodeInvalidArgument},
		{"bad limit", http.MethodGet, "/v1/chain/items?limit=0", nil, http.StatusBadRequest, errors.ErrCodeInvalidArgument},
		{"empty append", http.MethodPost, "/v1/chain/headers", AppendRequest{}, http.StatusBadRequest, errors.ErrCodeInvalidArgument},
		{"bad address", http.MethodPost, "/v1/chain/headers", AppendRequest{HeaderAddresses: []string{"has space"}}, http.StatusBadRequest, errors.ErrCodeInvalidHeaderAddress},
		{"unknown field", http.MethodPost, "/v1/chain/headers", map[string]string{"nope": "x"}, http.StatusBadRequest, errors.ErrCodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.code.String(), resp.ErrorCode)
			assert.NotEmpty(t, resp.RequestID)
			assert.Equal(t, resp.RequestID, rec.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusConflict, HTTPStatus(errors.HeadMoved("a", "b")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(errors.RetriesExhausted(4, errors.HeadMoved("a", "b"))))
	assert.Equal(t, http.StatusInsufficientStorage, HTTPStatus(errors.DiskFull(99, 0)))
	assert.Equal(t, http.StatusInsufficientStorage, HTTPStatus(errors.ChainFull(0, 1)))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(errors.DiskThrottled(85)))
	assert.Equal(t, http.StatusRequestTimeout, HTTPStatus(errors.Cancelled("commit", nil)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.CorruptedData("bad frame", nil)))
}

package escrow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/safetransfer/internal/signing"
)

func setupRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.svc).RegisterRoutes(r.Group("/v1"))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type escrowResponse struct {
	Escrow Result `json:"escrow"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func TestHandler_Lifecycle(t *testing.T) {
	f := newFixture(t)
	r := setupRouter(f)

	w := doJSON(t, r, "POST", "/v1/escrows", f.initRequest(t, 11, escrowAmount))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created escrowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, StageInitialized, created.Escrow.Record.Stage)
	assert.Equal(t, uint64(escrowAmount), created.Escrow.Record.Amount)
	assert.Contains(t, w.Body.String(), `"amount":"20000000"`)
	assert.Contains(t, w.Body.String(), `"instanceId":"11"`)

	w = doJSON(t, r, "GET", "/v1/escrows/"+created.Escrow.RecordAddress.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got escrowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, created.Escrow.RecordAddress, got.Escrow.RecordAddress)

	w = doJSON(t, r, "POST", "/v1/escrows/complete", f.completeRequest(t, 11))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var done escrowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	assert.Equal(t, StageCompleted, done.Escrow.Record.Stage)
	assert.Equal(t, uint64(escrowAmount), f.tokens(t, f.receiver.Address()))

	w = doJSON(t, r, "POST", "/v1/escrows/pull-back", f.pullBackRequest(t, 11))
	assert.Equal(t, http.StatusConflict, w.Code)
	var e errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "WrongStage", e.Error)
}

func TestHandler_PullBack(t *testing.T) {
	f := newFixture(t)
	r := setupRouter(f)

	w := doJSON(t, r, "POST", "/v1/escrows", f.initRequest(t, 1, escrowAmount))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, "POST", "/v1/escrows/pull-back", f.pullBackRequest(t, 1))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, uint64(fundedTokens), f.tokens(t, f.sender.Address()))
}

func TestHandler_ErrorMapping(t *testing.T) {
	f := newFixture(t)
	r := setupRouter(f)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   string
	}{
		{"zero amount", "/v1/escrows", f.initRequest(t, 1, 0), http.StatusBadRequest, "InvalidAmount"},
		{"over balance", "/v1/escrows", f.initRequest(t, 1, fundedTokens+1), http.StatusUnprocessableEntity, "InsufficientFunds"},
		{"missing record", "/v1/escrows/complete", f.completeRequest(t, 99), http.StatusNotFound, "AccountNotFound"},
		{"wrong signer", "/v1/escrows/complete", func() CompleteRequest {
			req := CompleteRequest{Tuple: f.tuple(1)}
			require.NoError(t, req.Sign(f.sender, f.svc.Program(), signing.Schnorr))
			return req
		}(), http.StatusForbidden, "Unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			var e errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
			assert.Equal(t, tt.kind, e.Error)
			assert.NotEmpty(t, e.Message)
		})
	}

	w := doJSON(t, r, "POST", "/v1/escrows", f.initRequest(t, 5, 10))
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, r, "POST", "/v1/escrows", f.initRequest(t, 5, 10))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "DuplicateInstance")
}

func TestHandler_InvalidBody(t *testing.T) {
	f := newFixture(t)
	r := setupRouter(f)

	for _, body := range []string{
		`{`,
		`{"sender":"not-an-address","amount":"1"}`,
		`{"amount":"-5"}`,
		`{"amount":5}`,
		`{"signature":"xyz"}`,
	} {
		req := httptest.NewRequest("POST", "/v1/escrows", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Contains(t, w.Body.String(), "invalid_request", body)
	}
}

func TestHandler_GetEscrow(t *testing.T) {
	f := newFixture(t)
	r := setupRouter(f)

	w := doJSON(t, r, "GET", "/v1/escrows/bogus!", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, "GET", "/v1/escrows/"+f.sender.Address().String(), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "a wallet is not a record")

	addrs, err := f.svc.Derive(f.tuple(1))
	require.NoError(t, err)
	w = doJSON(t, r, "GET", "/v1/escrows/"+addrs.Record.String(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Derive(t *testing.T) {
	f := newFixture(t)
	r := setupRouter(f)

	tp := f.tuple(1_700_000_000)
	path := "/v1/escrows/derive?sender=" + tp.Sender.String() +
		"&receiver=" + tp.Receiver.String() +
		"&asset=" + tp.Asset.String() +
		"&instanceId=1700000000"
	w := doJSON(t, r, "GET", path, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Addresses Addresses `json:"addresses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	want, err := f.svc.Derive(tp)
	require.NoError(t, err)
	assert.Equal(t, want, resp.Addresses)

	w = doJSON(t, r, "GET", "/v1/escrows/derive?sender="+tp.Sender.String()+"&instanceId=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

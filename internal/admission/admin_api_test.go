package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type adminFixture struct {
	router    *gin.Engine
	ledger    *Ledger
	policy    *Policy
	emergency bool
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &adminFixture{policy: DefaultPolicy()}
	store := NewMemoryStore()
	f.ledger = NewLedger(store, zap.NewNop(), 50*time.Millisecond)
	registry := NewRegistry(store, zap.NewNop(), time.Minute, time.Hour, 50*time.Millisecond)

	api := NewAdminAPI(StaticPolicy{P: f.policy}, f.ledger, registry, zap.NewNop(),
		func(enabled bool) { f.emergency = enabled })

	f.router = gin.New()
	api.Register(f.router.Group("/admin"))
	return f
}

func (f *adminFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAdminGetConfig(t *testing.T) {
	f := newAdminFixture(t)
	w := f.do("GET", "/admin/ratelimit/config", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success   bool   `json:"success"`
		RequestID string `json:"request_id"`
		Data      struct {
			Limits        map[string]json.RawMessage `json:"limits"`
			EmergencyMode bool                       `json:"emergency_mode"`
			Degraded      bool                       `json:"degraded"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	assert.Contains(t, resp.Data.Limits, "voting")
	assert.Contains(t, resp.Data.Limits, "web3")
	assert.False(t, resp.Data.EmergencyMode)
	assert.False(t, resp.Data.Degraded)
}

func TestAdminStatusAndReset(t *testing.T) {
	f := newAdminFixture(t)
	key := QuotaKey{Principal: "user:u1", Class: ClassVoting, Context: "none"}

	for i := 0; i < 3; i++ {
		out := f.ledger.Commit(context.Background(), key, time.Minute, 10)
		require.True(t, out.Allowed)
	}

	w := f.do("GET", "/admin/ratelimit/status?principal=user:u1&class=voting", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Data struct {
			Count   int64  `json:"count"`
			Key     string `json:"key"`
			BaseMax int64  `json:"base_max"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, int64(3), status.Data.Count)
	assert.Equal(t, "user:u1:voting:none", status.Data.Key)
	assert.Equal(t, int64(15), status.Data.BaseMax)

	w = f.do("POST", "/admin/ratelimit/reset", `{"principal":"user:u1","class":"voting"}`)
	require.Equal(t, http.StatusOK, w.Code)

	out, err := f.ledger.Peek(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Count)
}

func TestAdminStatusRequiresParams(t *testing.T) {
	f := newAdminFixture(t)
	w := f.do("GET", "/admin/ratelimit/status", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEmergencyToggle(t *testing.T) {
	f := newAdminFixture(t)

	w := f.do("POST", "/admin/ratelimit/emergency", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.emergency)

	w = f.do("POST", "/admin/ratelimit/emergency", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.emergency)

	w = f.do("POST", "/admin/ratelimit/emergency", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

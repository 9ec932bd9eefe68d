package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruvnet/swimring/internal/cluster"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, secret []byte) (*Server, *cluster.Registry) {
	t.Helper()
	registry := cluster.NewRegistry("a", cluster.Metadata{"role": []byte("leader")}, nil, zaptest.NewLogger(t))
	return NewServer(registry, secret, nil, zaptest.NewLogger(t)), registry
}

func TestHealthzOKWhenLocalOnline(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMembersRequiresBearerTokenWhenSecretConfigured(t *testing.T) {
	srv, _ := newTestServer(t, []byte("top-secret"))
	req := httptest.NewRequest(http.MethodGet, "/members", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMembersSucceedsWithValidToken(t *testing.T) {
	secret := []byte("top-secret")
	srv, _ := newTestServer(t, secret)
	token, err := signOperatorToken(secret, "operator")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/members", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Members []memberView `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Members, 1)
	assert.Equal(t, "a", body.Members[0].Name)
	assert.Equal(t, "ONLINE", body.Members[0].Status)
}

func TestUpdateMetadataAppliesToLocalMember(t *testing.T) {
	srv, registry := newTestServer(t, nil)

	body := `{"metadata":{"role":"follower"}}`
	req := httptest.NewRequest(http.MethodPost, "/local/metadata", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []byte("follower"), registry.Local().MetadataValue()["role"])
}

package adapter

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"FleetAlertEngine/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceToken(t *testing.T, secret, tenantID, deviceID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"tenant_id": tenantID,
		"device_id": deviceID,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newHTTPAdapter(t *testing.T, deps Deps) *HTTPAdapter {
	t.Helper()
	a, err := NewHTTPAdapter(deps, testConfig())
	require.NoError(t, err)
	return a.(*HTTPAdapter)
}

func TestHTTPAuthenticateValidToken(t *testing.T) {
	a := newHTTPAdapter(t, testDeps())

	token := deviceToken(t, "test-secret", "t-1", "d-1")
	identity, err := a.Authenticate(context.Background(), Credentials{Token: token})
	require.NoError(t, err)
	assert.Equal(t, models.DeviceIdentity{TenantID: "t-1", DeviceID: "d-1"}, identity)
}

func TestHTTPAuthenticateRejections(t *testing.T) {
	a := newHTTPAdapter(t, testDeps())
	ctx := context.Background()

	var authErr *AuthError

	_, err := a.Authenticate(ctx, Credentials{})
	require.ErrorAs(t, err, &authErr)

	_, err = a.Authenticate(ctx, Credentials{Token: deviceToken(t, "wrong-secret", "t-1", "d-1")})
	require.ErrorAs(t, err, &authErr)

	incomplete := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"tenant_id": "t-1"})
	signed, err := incomplete.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, Credentials{Token: signed})
	require.ErrorAs(t, err, &authErr)
}

func TestHTTPIngestJSON(t *testing.T) {
	deps := testDeps()
	sink := deps.Sink.(*fakeSink)
	a := newHTTPAdapter(t, deps)

	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/ingest/http",
		bytes.NewReader([]byte(`{"temperature": 21.5, "humidity": 55}`)))
	req.Header.Set("Authorization", "Bearer "+deviceToken(t, "test-secret", "t-1", "d-1"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"accepted":2`)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "t-1", sink.events[0].TenantID)
}

func TestHTTPIngestFormEncoded(t *testing.T) {
	deps := testDeps()
	sink := deps.Sink.(*fakeSink)
	a := newHTTPAdapter(t, deps)

	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/ingest/http",
		strings.NewReader("temperature=21.5&rpm=1200"))
	req.Header.Set("Authorization", "Bearer "+deviceToken(t, "test-secret", "t-1", "d-1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.events, 2)
}

func TestHTTPIngestUnauthorized(t *testing.T) {
	a := newHTTPAdapter(t, testDeps())

	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/ingest/http",
		bytes.NewReader([]byte(`{"temperature": 21.5}`)))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPIngestMalformedBody(t *testing.T) {
	a := newHTTPAdapter(t, testDeps())

	router := mux.NewRouter()
	a.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/ingest/http", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+deviceToken(t, "test-secret", "t-1", "d-1"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPPublishUnsupported(t *testing.T) {
	a := newHTTPAdapter(t, testDeps())
	assert.ErrorIs(t, a.Publish(context.Background(), models.Command{}), ErrPublishUnsupported)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/contact-identity/internal/auth"
	"github.com/sakif/contact-identity/internal/config"
	"github.com/sakif/contact-identity/internal/model"
	"github.com/sakif/contact-identity/internal/repository/sqlite"
)

const testSecret = "server-test-secret-0123456789"

func newTestServer(t *testing.T, environ map[string]string) *httptest.Server {
	t.Helper()
	cfg, err := config.LoadFrom(environ)
	require.NoError(t, err)

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, db, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func identify(t *testing.T, ts *httptest.Server, body string) (int, model.IdentifyResponse) {
	t.Helper()
	res, err := http.Post(ts.URL+"/identify", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer res.Body.Close()

	var out model.IdentifyResponse
	if res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	}
	return res.StatusCode, out
}

func TestServer_IdentifyFlow(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	status, first := identify(t, ts, `{"email":"lorraine@hillvalley.edu","phoneNumber":"123456"}`)
	require.Equal(t, http.StatusOK, status)

	status, second := identify(t, ts, `{"email":"mcfly@hillvalley.edu","phoneNumber":"123456"}`)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, first.Contact.PrimaryContactID, second.Contact.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, second.Contact.Emails)
	assert.Equal(t, []string{"123456"}, second.Contact.PhoneNumbers)
	assert.Len(t, second.Contact.SecondaryContactIDs, 1)

	_, byPhone := identify(t, ts, `{"phoneNumber":"123456"}`)
	assert.Equal(t, second, byPhone)
}

func TestServer_MergeFlow(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	_, george := identify(t, ts, `{"email":"george@hillvalley.edu","phoneNumber":"919191"}`)
	_, biff := identify(t, ts, `{"email":"biffsucks@hillvalley.edu","phoneNumber":"717171"}`)

	status, merged := identify(t, ts, `{"email":"george@hillvalley.edu","phoneNumber":"717171"}`)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, model.ConsolidatedContact{
		PrimaryContactID:    george.Contact.PrimaryContactID,
		Emails:              []string{"george@hillvalley.edu", "biffsucks@hillvalley.edu"},
		PhoneNumbers:        []string{"919191", "717171"},
		SecondaryContactIDs: []int64{biff.Contact.PrimaryContactID},
	}, merged.Contact)
}

func TestServer_ValidationEnvelope(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	res, err := http.Post(ts.URL+"/identify", "application/json", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, float64(400), body["statusCode"])
	assert.Equal(t, "Bad Request", body["error"])
	assert.Equal(t, []any{"At least one of email or phoneNumber must be provided"}, body["message"])
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServer_ContactsRouteDisabledWithoutSecret(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	res, err := http.Get(ts.URL + "/contacts/1")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServer_ContactsRequiresBearer(t *testing.T) {
	ts := newTestServer(t, map[string]string{"ADMIN_JWT_SECRET": testSecret})
	_, created := identify(t, ts, `{"email":"doc@hillvalley.edu"}`)
	url := ts.URL + "/contacts/" + strconv.FormatInt(created.Contact.PrimaryContactID, 10)

	res, err := http.Get(url)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	token, err := tokens.Issue("ops", time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	var body model.IdentifyResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, created, body)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{"SHUTDOWN_TIMEOUT": "2s"})
	require.NoError(t, err)
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)

	s, err := New(cfg, db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	assert.Error(t, db.Ping(context.Background()), "the store is closed on shutdown")
}

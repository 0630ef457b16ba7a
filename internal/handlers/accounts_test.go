package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/memohai/courier/internal/accounts"
	"github.com/memohai/courier/internal/channel"
)

type fakeCreator struct {
	calls       int
	name        string
	temperature float64
	err         error
}

func (f *fakeCreator) CreateAssistant(_ context.Context, name, _ string, temperature float64) (string, error) {
	f.calls++
	f.name = name
	f.temperature = temperature
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("asst_new_%d", f.calls), nil
}

func newAccountsStore(t *testing.T) *accounts.GormStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store, err := accounts.NewGormStore(conn)
	require.NoError(t, err)
	_, err = store.Upsert(context.Background(), channel.ChannelConfig{
		ChannelType: channel.ChannelTypeInstagram,
		OwnerID:     "42",
		AssistantID: "asst_old",
		Credentials: map[string]any{"access_token": "tok"},
	})
	require.NoError(t, err)
	return store
}

func postJSON(e *echo.Echo, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateAssistantAssignsAccount(t *testing.T) {
	store := newAccountsStore(t)
	creator := &fakeCreator{}
	e, token := newAdminEcho(t, NewAccountsHandler(nil, store, store, creator))

	rec := postJSON(e, "/accounts/instagram/42/assistant", token, `{"temperature":0.3,"instructions":"Answer in one line"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"platform":"instagram","owner_id":"42","assistant_id":"asst_new_1","temperature":0.3,"instructions":"Answer in one line"}`, rec.Body.String())
	assert.Equal(t, "My instagram Bot", creator.name)
	assert.InDelta(t, 0.3, creator.temperature, 1e-9)

	account, err := store.Resolve(context.Background(), channel.ChannelTypeInstagram, "42")
	require.NoError(t, err)
	assert.Equal(t, "asst_new_1", account.AssistantID)
	assert.Equal(t, "tok", account.Credential("access_token"), "credentials survive reassignment")
}

func TestCreateAssistantDefaultsTemperature(t *testing.T) {
	store := newAccountsStore(t)
	creator := &fakeCreator{}
	e, token := newAdminEcho(t, NewAccountsHandler(nil, store, store, creator))

	rec := postJSON(e, "/accounts/instagram/42/assistant", token, `{}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.InDelta(t, defaultAssistantTemperature, creator.temperature, 1e-9)
	assert.Contains(t, rec.Body.String(), `"instructions":"Be polite"`)
}

func TestCreateAssistantRejectsBadRequests(t *testing.T) {
	store := newAccountsStore(t)
	creator := &fakeCreator{}
	e, token := newAdminEcho(t, NewAccountsHandler(nil, store, store, creator))

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "temperature above range", path: "/accounts/instagram/42/assistant", body: `{"temperature":1.5}`, want: http.StatusBadRequest},
		{name: "negative temperature", path: "/accounts/instagram/42/assistant", body: `{"temperature":-0.1}`, want: http.StatusBadRequest},
		{name: "malformed body", path: "/accounts/instagram/42/assistant", body: `{"temperature":`, want: http.StatusBadRequest},
		{name: "unknown platform", path: "/accounts/discord/42/assistant", body: `{}`, want: http.StatusBadRequest},
		{name: "unknown owner", path: "/accounts/instagram/99/assistant", body: `{}`, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(e, tc.path, token, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, creator.calls, "no assistant is created for rejected requests")

	account, err := store.Resolve(context.Background(), channel.ChannelTypeInstagram, "42")
	require.NoError(t, err)
	assert.Equal(t, "asst_old", account.AssistantID)
}

func TestCreateAssistantBackendFailureKeepsAssignment(t *testing.T) {
	store := newAccountsStore(t)
	creator := &fakeCreator{err: errors.New("upstream unavailable")}
	e, token := newAdminEcho(t, NewAccountsHandler(nil, store, store, creator))

	rec := postJSON(e, "/accounts/instagram/42/assistant", token, `{}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	account, err := store.Resolve(context.Background(), channel.ChannelTypeInstagram, "42")
	require.NoError(t, err)
	assert.Equal(t, "asst_old", account.AssistantID)
}

func TestCreateAssistantRequiresAdminAndWriter(t *testing.T) {
	store := newAccountsStore(t)
	e, token := newAdminEcho(t, NewAccountsHandler(nil, store, nil, &fakeCreator{}))

	assert.Equal(t, http.StatusUnauthorized, postJSON(e, "/accounts/instagram/42/assistant", "", `{}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, postJSON(e, "/accounts/instagram/42/assistant", token, `{}`).Code)
}

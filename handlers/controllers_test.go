package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerHealthCheck(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Ok", recorder.Body.String())
}

func TestPlatformFromPath(t *testing.T) {
	platform, err := platformFromPath("/v1/oauth/twitter/callback", "/v1/oauth/")
	require.NoError(t, err)
	assert.Equal(t, "twitter", string(platform))

	platform, err = platformFromPath("/v1/oauth/youtube", "/v1/oauth/")
	require.NoError(t, err)
	assert.Equal(t, "youtube", string(platform))

	_, err = platformFromPath("/v1/oauth/myspace/callback", "/v1/oauth/")
	assert.Error(t, err)

	_, err = platformFromPath("/v1/oauth/", "/v1/oauth/")
	assert.Error(t, err)
}

func TestOauthStartRequiresUserId(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerOauthStart(recorder, httptest.NewRequest(http.MethodGet, "/v1/oauth/twitter", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "userId")
}

func TestOauthStartRejectsUnknownPlatform(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerOauthStart(recorder, httptest.NewRequest(http.MethodGet, "/v1/oauth/friendster?userId=u1", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "unsupported platform")
}

func TestOauthCallbackRequiresCodeAndState(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerOauthCallback(recorder, httptest.NewRequest(http.MethodGet, "/v1/oauth/twitter/callback", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "code and state are required")
}

func TestOauthCallbackSurfacesProviderDenial(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerOauthCallback(recorder,
		httptest.NewRequest(http.MethodGet, "/v1/oauth/twitter/callback?error=access_denied", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "access_denied")
}

func TestListCredentialsRequiresUserId(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerListCredentials(recorder, httptest.NewRequest(http.MethodGet, "/v1/credentials", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCredentialToggleValidation(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerCredentialToggle(recorder, httptest.NewRequest(http.MethodGet, "/v1/credentials/toggle", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)

	recorder = httptest.NewRecorder()
	HandlerCredentialToggle(recorder, httptest.NewRequest(http.MethodPost,
		"/v1/credentials/toggle", strings.NewReader(`{"credentialId":""}`)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreateContentValidation(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerCreateContent(recorder, httptest.NewRequest(http.MethodPost,
		"/v1/content", strings.NewReader(`{"body":"no user"}`)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = httptest.NewRecorder()
	HandlerCreateContent(recorder, httptest.NewRequest(http.MethodPost,
		"/v1/content", strings.NewReader(`{"userId":"u1","body":"hi","targetPlatforms":["myspace"]}`)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "unsupported platform")

	recorder = httptest.NewRecorder()
	HandlerCreateContent(recorder, httptest.NewRequest(http.MethodPost,
		"/v1/content", strings.NewReader(`{"userId":"u1","body":"hi","scheduledAtEpochMilli":1000}`)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "future")
}

func TestPublishContentValidation(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerPublishContent(recorder, httptest.NewRequest(http.MethodGet, "/v1/content/publish", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)

	recorder = httptest.NewRecorder()
	HandlerPublishContent(recorder, httptest.NewRequest(http.MethodPost,
		"/v1/content/publish", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "contentId")
}

func TestGetContentRequiresId(t *testing.T) {
	recorder := httptest.NewRecorder()
	HandlerGetContent(recorder, httptest.NewRequest(http.MethodGet, "/v1/content/get", nil))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

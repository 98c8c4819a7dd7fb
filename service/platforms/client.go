package platforms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/crosspost-media-core/v2/configuration"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
)

// Doer abstracts the HTTP client so adapter tests can inject canned
// responses and assert on outgoing requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: time.Duration(config.GetEnvConfigs().StandardCallTimeoutSec) * time.Second,
	}
}

func extendedHTTPClient() *http.Client {
	return &http.Client{
		Timeout: time.Duration(config.GetEnvConfigs().ExtendedCallTimeoutSec) * time.Second,
	}
}

type wireResponse struct {
	StatusCode int
	Body       []byte
}

func (r wireResponse) decode(target interface{}) error {
	return json.Unmarshal(r.Body, target)
}

func (r wireResponse) ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func doRequest(client Doer, req *http.Request, platform tables.Platform) (wireResponse, error) {
	resp, err := client.Do(req)
	if err != nil {
		return wireResponse{}, networkError(platform, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return wireResponse{}, networkError(platform, err)
	}
	return wireResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

func postForm(client Doer, platform tables.Platform, endpoint string, values url.Values,
	headers map[string]string) (wireResponse, error) {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return wireResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req, platform)
}

func postJSON(client Doer, platform tables.Platform, endpoint string, payload interface{},
	headers map[string]string) (wireResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return wireResponse{}, err
	}
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return wireResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req, platform)
}

func getRequest(client Doer, platform tables.Platform, endpoint string,
	headers map[string]string) (wireResponse, error) {
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return wireResponse{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req, platform)
}

func putBytes(client Doer, platform tables.Platform, endpoint string, payload []byte,
	headers map[string]string) (wireResponse, error) {
	req, err := http.NewRequest(http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return wireResponse{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req, platform)
}

func deleteRequest(client Doer, platform tables.Platform, endpoint string,
	headers map[string]string) (wireResponse, error) {
	req, err := http.NewRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return wireResponse{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return doRequest(client, req, platform)
}

func bearerHeader(accessToken string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + accessToken}
}

// wireTokenPayload unifies the OAuth token response shapes the seven
// platforms return.
type wireTokenPayload struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	OpenID       string `json:"open_id"`
}

// normalizeTokens converts a wire payload to Tokens, keeping the
// caller's refresh token when the platform did not issue a new one.
func normalizeTokens(payload wireTokenPayload, priorRefreshToken string) Tokens {
	result := Tokens{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		Scope:        payload.Scope,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = priorRefreshToken
	}
	if payload.ExpiresIn > 0 {
		result.ExpiresAtEpochSec = time.Now().Unix() + payload.ExpiresIn
	}
	return result
}

// wireErrorEnvelope matches the common error shapes: Graph-style
// nested {"error":{...}} and flat {"error":"...","error_description"}.
type wireErrorEnvelope struct {
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Message          string          `json:"message"`
}

type graphErrorDetail struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// responseError builds a classified PlatformError from a non-2xx wire
// response.
func responseError(platform tables.Platform, resp wireResponse) *PlatformError {
	envelope := wireErrorEnvelope{}
	code := 0
	message := strings.TrimSpace(string(resp.Body))
	if err := json.Unmarshal(resp.Body, &envelope); err == nil {
		detail := graphErrorDetail{}
		if len(envelope.Error) > 0 && json.Unmarshal(envelope.Error, &detail) == nil && detail.Message != "" {
			message = detail.Message
			code = detail.Code
		} else if envelope.ErrorDescription != "" {
			message = envelope.ErrorDescription
		} else if envelope.Message != "" {
			message = envelope.Message
		} else if len(envelope.Error) > 0 {
			flat := ""
			if json.Unmarshal(envelope.Error, &flat) == nil && flat != "" {
				message = flat
			}
		}
	}
	if len(message) > 500 {
		message = message[:500]
	}
	return classifyStatus(platform, resp.StatusCode, code, message)
}

func requireOk(platform tables.Platform, resp wireResponse) error {
	if resp.ok() {
		return nil
	}
	return responseError(platform, resp)
}

// downloadMedia fetches a media reference for re-upload to a platform
// that does not accept remote URLs.
func downloadMedia(client Doer, platform tables.Platform, mediaUrl string) ([]byte, string, error) {
	resp, err := getRequest(client, platform, mediaUrl, nil)
	if err != nil {
		return nil, "", err
	}
	if !resp.ok() {
		return nil, "", fmt.Errorf("media download failed: HTTP %d for %s", resp.StatusCode, mediaUrl)
	}
	contentType := http.DetectContentType(resp.Body)
	return resp.Body, contentType, nil
}

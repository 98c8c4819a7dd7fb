package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	dal "github.com/crosspost-media-core/v2/dal"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
	accounts "github.com/crosspost-media-core/v2/service/accounts"
	publish "github.com/crosspost-media-core/v2/service/publish"
)

func HandlerHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Ok")
}

func writeJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJson(w, status, map[string]string{"error": err.Error()})
}

// platformFromPath extracts the platform segment from routes shaped
// /v1/oauth/{platform}/... and validates it.
func platformFromPath(path string, prefix string) (tables.Platform, error) {
	remainder := strings.TrimPrefix(path, prefix)
	segment := strings.SplitN(strings.Trim(remainder, "/"), "/", 2)[0]
	if !tables.IsSupportedPlatform(segment) {
		return "", fmt.Errorf("unsupported platform: %s", segment)
	}
	return tables.Platform(segment), nil
}

type oauthStartRequest struct {
	UserID string `json:"userId"`
}

// HandlerOauthStart begins the connect flow. POST with a userId body;
// responds with the authorization URL to redirect the user to.
func HandlerOauthStart(w http.ResponseWriter, r *http.Request) {
	platform, err := platformFromPath(r.URL.Path, "/v1/oauth/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload oauthStartRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&payload)
	}
	userId := payload.UserID
	if userId == "" {
		userId = r.URL.Query().Get("userId")
	}
	if userId == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("userId is required"))
		return
	}
	authUrl, err := accounts.StartOAuthFlow(userId, platform, uuid.New().String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]string{"authUrl": authUrl})
}

// HandlerOauthCallback completes the connect flow from the platform
// redirect.
func HandlerOauthCallback(w http.ResponseWriter, r *http.Request) {
	platform, err := platformFromPath(r.URL.Path, "/v1/oauth/")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if errParam := r.FormValue("error"); errParam != "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("authorization denied: %s", errParam))
		return
	}
	code := r.FormValue("code")
	state := r.FormValue("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("code and state are required"))
		return
	}
	credentialId, err := accounts.CompleteOAuthFlow(r.Context(), platform, code, state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "Account connected (credential %s). You can now safely close this browser window.", credentialId)
}

type credentialView struct {
	CredentialID        string          `json:"credentialId"`
	Platform            tables.Platform `json:"platform"`
	ExternalAccountID   string          `json:"externalAccountId"`
	ExternalAccountName string          `json:"externalAccountName"`
	Active              bool            `json:"active"`
	ExpiresAtEpochSec   int64           `json:"expiresAtEpochSec"`
	ProfileMetadata     json.RawMessage `json:"profileMetadata,omitempty"`
}

// HandlerListCredentials lists a user's connected accounts. Tokens are
// never included in the response.
func HandlerListCredentials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("route must be called with GET, given %s", r.Method))
		return
	}
	userId := r.URL.Query().Get("userId")
	if userId == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("userId query parameter is required"))
		return
	}
	credentials, err := dal.ListCredentialsByOwner(userId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]credentialView, 0, len(credentials))
	for _, c := range credentials {
		view := credentialView{
			CredentialID:        c.CredentialID,
			Platform:            c.Platform,
			ExternalAccountID:   c.ExternalAccountID,
			ExternalAccountName: c.ExternalAccountName,
			Active:              c.IsActive(),
			ExpiresAtEpochSec:   c.ExpiresAtEpochSec,
		}
		if json.Valid([]byte(c.ProfileMetadata)) {
			view.ProfileMetadata = json.RawMessage(c.ProfileMetadata)
		}
		views = append(views, view)
	}
	writeJson(w, http.StatusOK, views)
}

type credentialActionRequest struct {
	CredentialID string `json:"credentialId"`
	Active       *bool  `json:"active,omitempty"`
}

// HandlerCredentialToggle activates or deactivates a credential.
func HandlerCredentialToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("route must be called with POST, given %s", r.Method))
		return
	}
	var payload credentialActionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.CredentialID == "" || payload.Active == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("credentialId and active are required"))
		return
	}
	if err := dal.SetCredentialActive(payload.CredentialID, *payload.Active); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Ok")
}

// HandlerCredentialDelete disconnects an account, hard-deleting the
// stored tokens.
func HandlerCredentialDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("route must be called with POST or DELETE, given %s", r.Method))
		return
	}
	var payload credentialActionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.CredentialID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("credentialId is required"))
		return
	}
	if err := dal.DeleteCredential(payload.CredentialID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "Ok")
}

type createContentRequest struct {
	UserID                string            `json:"userId"`
	Body                  string            `json:"body"`
	MediaReferences       []string          `json:"mediaReferences"`
	TargetPlatforms       []tables.Platform `json:"targetPlatforms"`
	ScheduledAtEpochMilli int64             `json:"scheduledAtEpochMilli"`
	PublishNow            bool              `json:"publishNow"`
}

// HandlerCreateContent creates a content item as a draft, schedules
// it, or publishes it immediately.
func HandlerCreateContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("route must be called with POST, given %s", r.Method))
		return
	}
	var payload createContentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.UserID == "" || payload.Body == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("userId and body are required"))
		return
	}
	for _, platform := range payload.TargetPlatforms {
		if !tables.IsSupportedPlatform(string(platform)) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported platform: %s", platform))
			return
		}
	}

	status := tables.CONTENT_DRAFT
	if payload.ScheduledAtEpochMilli > 0 && !payload.PublishNow {
		if payload.ScheduledAtEpochMilli <= time.Now().UnixMilli() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("scheduledAtEpochMilli must be in the future"))
			return
		}
		status = tables.CONTENT_SCHEDULED
	}
	item := tables.ContentItem{
		OwnerID:               payload.UserID,
		Body:                  payload.Body,
		MediaReferences:       payload.MediaReferences,
		TargetPlatforms:       payload.TargetPlatforms,
		ScheduledAtEpochMilli: payload.ScheduledAtEpochMilli,
		ContentStatus:         status,
	}
	contentId, err := dal.CreateContentItem(item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if payload.PublishNow {
		item.ContentID = contentId
		outcomes, err := publish.PublishPost(r.Context(), item)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJson(w, http.StatusOK, map[string]interface{}{
			"contentId": contentId,
			"outcomes":  outcomes,
		})
		return
	}
	writeJson(w, http.StatusCreated, map[string]interface{}{
		"contentId": contentId,
		"status":    status,
	})
}

type publishContentRequest struct {
	ContentID string `json:"contentId"`
}

// HandlerPublishContent pushes an existing draft or scheduled item
// through the pipeline immediately.
func HandlerPublishContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("route must be called with POST, given %s", r.Method))
		return
	}
	var payload publishContentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.ContentID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("contentId is required"))
		return
	}
	item, err := dal.GetContentItem(payload.ContentID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if item.ContentStatus == tables.CONTENT_PUBLISHED {
		writeError(w, http.StatusConflict, fmt.Errorf("content %s is already published", item.ContentID))
		return
	}
	outcomes, err := publish.PublishPost(r.Context(), item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]interface{}{
		"contentId": item.ContentID,
		"outcomes":  outcomes,
	})
}

// HandlerGetContent returns a content item with its publish results.
func HandlerGetContent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("route must be called with GET, given %s", r.Method))
		return
	}
	contentId := r.URL.Query().Get("contentId")
	if contentId == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("contentId query parameter is required"))
		return
	}
	item, err := dal.GetContentItem(contentId)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJson(w, http.StatusOK, map[string]interface{}{
		"contentId":             item.ContentID,
		"status":                item.ContentStatus,
		"body":                  item.Body,
		"targetPlatforms":       item.TargetPlatforms,
		"scheduledAtEpochMilli": item.ScheduledAtEpochMilli,
		"publishedAtEpochMilli": item.PublishedAtEpochMilli,
		"outcomes":              item.OutcomeMap(),
	})
}

package accounts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	dal "github.com/crosspost-media-core/v2/dal"
	tables "github.com/crosspost-media-core/v2/dal/tables/v1"
	platforms "github.com/crosspost-media-core/v2/service/platforms"

	"log"
)

// Swappable seams for tests.
var (
	adapterFor       = platforms.GetAdapter
	createCredential = dal.CreateCredential
)

// OAuthState rides the state parameter through the authorization
// redirect, base64-encoded JSON.
type OAuthState struct {
	UserID   string `json:"userId"`
	Platform string `json:"platform"`
	Nonce    string `json:"nonce"`
}

func EncodeState(state OAuthState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodeState(encoded string) (OAuthState, error) {
	state := OAuthState{}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return state, err
	}
	err = json.Unmarshal(raw, &state)
	if err != nil {
		return state, err
	}
	if state.UserID == "" {
		return state, fmt.Errorf("state is missing userId")
	}
	return state, nil
}

// StartOAuthFlow returns the platform authorization URL the caller
// should redirect the user to.
func StartOAuthFlow(userId string, platform tables.Platform, nonce string) (string, error) {
	adapter, err := adapterFor(platform)
	if err != nil {
		return "", err
	}
	encodedState, err := EncodeState(OAuthState{
		UserID:   userId,
		Platform: string(platform),
		Nonce:    nonce,
	})
	if err != nil {
		return "", err
	}
	return adapter.BuildAuthorizationURL(encodedState)
}

// CompleteOAuthFlow exchanges the callback code, resolves the external
// account, and stores the sealed credential. Returns the new
// credential id.
func CompleteOAuthFlow(ctx context.Context, platform tables.Platform, code string, encodedState string) (string, error) {
	state, err := DecodeState(encodedState)
	if err != nil {
		return "", err
	}
	adapter, err := adapterFor(platform)
	if err != nil {
		return "", err
	}
	exchanged, err := adapter.ExchangeCode(ctx, code)
	if err != nil {
		log.Printf("error exchanging %s code for user %s: %s", platform, state.UserID, err)
		return "", err
	}
	profile, err := adapter.FetchProfile(ctx, exchanged.AccessToken)
	if err != nil {
		log.Printf("error fetching %s profile for user %s: %s", platform, state.UserID, err)
		return "", err
	}
	credentialId, err := createCredential(tables.Credential{
		UserID:              state.UserID,
		Platform:            platform,
		AccessToken:         exchanged.AccessToken,
		RefreshToken:        exchanged.RefreshToken,
		ExpiresAtEpochSec:   exchanged.ExpiresAtEpochSec,
		ActiveFlag:          tables.CREDENTIAL_ACTIVE,
		ExternalAccountID:   profile.ExternalAccountID,
		ExternalAccountName: profile.ExternalAccountName,
		ProfileMetadata:     profile.MetadataJSON,
	})
	if err != nil {
		return "", err
	}
	log.Printf("credentialID: %s connected %s account %s for user %s",
		credentialId, platform, profile.ExternalAccountName, state.UserID)
	return credentialId, nil
}

package main

import (
	"log"
	"net/http"
	"strings"

	config "github.com/crosspost-media-core/v2/configuration"
	dynamo_configuration "github.com/crosspost-media-core/v2/configuration/dynamo"
	handlers "github.com/crosspost-media-core/v2/handlers"
	publish "github.com/crosspost-media-core/v2/service/publish"
	tokens "github.com/crosspost-media-core/v2/service/tokens"
)

const route_health = "/health"

// Oauth2 flows; {platform} segment parsed in the handler.
const route_oauth = "/v1/oauth/"

// Connected account management
const route_credentials = "/v1/credentials"
const route_credential_toggle = "/v1/credentials/toggle"
const route_credential_delete = "/v1/credentials/delete"

// Content lifecycle
const route_content = "/v1/content"
const route_content_publish = "/v1/content/publish"
const route_content_get = "/v1/content/get"

func main() {
	http.HandleFunc(route_health, handlers.HandlerHealthCheck)
	http.HandleFunc(route_oauth, routeOauth)
	http.HandleFunc(route_credentials, handlers.HandlerListCredentials)
	http.HandleFunc(route_credential_toggle, handlers.HandlerCredentialToggle)
	http.HandleFunc(route_credential_delete, handlers.HandlerCredentialDelete)
	http.HandleFunc(route_content, handlers.HandlerCreateContent)
	http.HandleFunc(route_content_publish, handlers.HandlerPublishContent)
	http.HandleFunc(route_content_get, handlers.HandlerGetContent)

	config.GetEnvConfigs()
	dynamo_configuration.Init()

	dispatcher := publish.NewDispatcher()
	dispatcher.Start()
	defer dispatcher.Stop()

	refresher := tokens.NewRefresher()
	refresher.Start()
	defer refresher.Stop()

	log.Fatal(http.ListenAndServe(":8080", nil))
}

// routeOauth fans /v1/oauth/{platform} and /v1/oauth/{platform}/callback
// to the start and callback handlers.
func routeOauth(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/callback") {
		handlers.HandlerOauthCallback(w, r)
		return
	}
	handlers.HandlerOauthStart(w, r)
}

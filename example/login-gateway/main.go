package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mnehpets/idbridge/auth"
	"github.com/mnehpets/idbridge/endpoint"
	"github.com/mnehpets/idbridge/middleware"
)

// HomeEndpoint shows the current login status.
func HomeEndpoint(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	claims, ok := middleware.SessionClaimsFromContext(r.Context())
	if !ok {
		return &endpoint.StringRenderer{
			Body: "Not logged in. Visit /auth/login to sign in.\n",
		}, nil
	}
	return &endpoint.StringRenderer{
		Body: "Logged in as " + claims.Subject + " with roles [" + strings.Join(claims.Roles, ", ") + "]. Visit /auth/logout to sign out.\n",
	}, nil
}

// AdminEndpoint is only reachable with the admin role.
func AdminEndpoint(w http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	claims, _ := middleware.SessionClaimsFromContext(r.Context())
	return &endpoint.StringRenderer{Body: "Hello, admin " + claims.Subject + ".\n"}, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := auth.Config{
		Domain:       os.Getenv("IDP_DOMAIN"),
		ClientID:     os.Getenv("IDP_CLIENT_ID"),
		ClientSecret: os.Getenv("IDP_CLIENT_SECRET"),
		BaseURL:      os.Getenv("APP_BASE_URL"),
		Secret:       os.Getenv("SESSION_SECRET"),
		GroupsClaim:  os.Getenv("GROUPS_CLAIM"),
		LocalDev:     os.Getenv("LOCAL_DEV") == "true",
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}

	authHandler, err := auth.NewHandler(cfg, "/auth")
	if err != nil {
		log.Fatalf("Failed to create auth handler: %v", err)
	}

	session := middleware.NewSessionProcessor(auth.DefaultSessionCookieName, []byte(cfg.Secret))

	mux := http.NewServeMux()
	mux.Handle("/auth/", authHandler)
	mux.HandleFunc("/admin", endpoint.HandleFunc(AdminEndpoint, session, middleware.RequireRoles("admin")))
	mux.HandleFunc("/", endpoint.HandleFunc(HomeEndpoint, session))

	log.Println("Listening on :8080")
	if err := http.ListenAndServe(":8080", mux); err != nil {
		log.Fatal(err)
	}
}

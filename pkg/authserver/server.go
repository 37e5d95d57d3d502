// Package authserver implements the embedded OAuth 2.1 authorization server:
// dynamic client registration, the authorization code flow with mandatory
// PKCE, and HS256 access token issuance. It exists so MCP clients can obtain
// tokens with zero out-of-band configuration.
package authserver

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

// DefaultTokenExpiry is the access token lifetime.
const DefaultTokenExpiry = time.Hour

// DefaultScope is granted when a client requests none.
const DefaultScope = "mcp"

// Config holds the authorization server settings.
type Config struct {
	// Issuer is the externally visible base URL, also the iss claim.
	Issuer string

	// ResourceURL is the MCP resource this server mints tokens for, also
	// the aud claim.
	ResourceURL string

	// JWTSecret signs access tokens with HS256.
	JWTSecret []byte

	// TokenExpiry defaults to one hour.
	TokenExpiry time.Duration
}

// TokenMetrics counts issued tokens.
type TokenMetrics interface {
	TokenIssued()
}

// Server is the authorization server.
type Server struct {
	cfg     Config
	clients ClientStore
	codes   *CodeStore
	now     func() time.Time
	metrics TokenMetrics
}

// SetMetrics attaches token issuance instrumentation.
func (s *Server) SetMetrics(m TokenMetrics) {
	s.metrics = m
}

// New creates a Server over the given client store.
func New(cfg Config, clients ClientStore) *Server {
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = DefaultTokenExpiry
	}
	return &Server{
		cfg:     cfg,
		clients: clients,
		codes:   NewCodeStore(),
		now:     time.Now,
	}
}

// Routes mounts the discovery, registration, authorization, and token
// endpoints.
func (s *Server) Routes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", s.handleMetadata)
	r.Get("/.well-known/oauth-protected-resource", s.handleProtectedResource)
	r.Post("/register", s.handleRegister)
	r.Get("/authorize", s.handleAuthorize)
	r.Post("/token", s.handleToken)
}

// Close releases the code store sweeper and the client store.
func (s *Server) Close() error {
	s.codes.Close()
	return s.clients.Close()
}

func (s *Server) handleMetadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                s.cfg.Issuer,
		"authorization_endpoint":                s.cfg.Issuer + "/authorize",
		"token_endpoint":                        s.cfg.Issuer + "/token",
		"registration_endpoint":                 s.cfg.Issuer + "/register",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_post", "none"},
		"scopes_supported":                      []string{DefaultScope},
	})
}

func (s *Server) handleProtectedResource(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resource":              s.cfg.ResourceURL,
		"authorization_servers": []string{s.cfg.Issuer},
		"bearer_methods_supported": []string{
			"header",
		},
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req DCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &DCRError{
			Error:            dcrErrorInvalidClientMetadata,
			ErrorDescription: "invalid JSON request body",
		})
		return
	}

	validated, dcrErr := ValidateDCRRequest(&req)
	if dcrErr != nil {
		writeJSON(w, http.StatusBadRequest, dcrErr)
		return
	}

	scope := validated.Scope
	if scope == "" {
		scope = DefaultScope
	}

	client := &Client{
		ID:                      uuid.NewString(),
		Secret:                  randomSecret(),
		Name:                    validated.ClientName,
		RedirectURIs:            validated.RedirectURIs,
		GrantTypes:              validated.GrantTypes,
		ResponseTypes:           validated.ResponseTypes,
		TokenEndpointAuthMethod: validated.TokenEndpointAuthMethod,
		Scope:                   scope,
		CreatedAt:               s.now().UTC(),
	}
	if err := s.clients.Put(r.Context(), client); err != nil {
		logger.Errorw("failed to persist client registration", "error", err)
		writeJSON(w, http.StatusInternalServerError, &DCRError{
			Error:            dcrErrorInvalidClientMetadata,
			ErrorDescription: "failed to store client",
		})
		return
	}

	logger.Infow("registered OAuth client",
		"client_id", client.ID,
		"client_name", client.Name,
		"redirect_uris", len(client.RedirectURIs),
	)

	writeJSON(w, http.StatusCreated, DCRResponse{
		ClientID:                client.ID,
		ClientSecret:            client.Secret,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		ClientName:              client.Name,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   client.Scope,
	})
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	client, err := s.clients.Get(r.Context(), q.Get("client_id"))
	if err != nil {
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return
	}
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" || !client.MatchesRedirectURI(redirectURI) {
		// Never redirect to an unregistered URI.
		http.Error(w, "redirect_uri does not match a registered URI", http.StatusBadRequest)
		return
	}

	state := q.Get("state")
	fail := func(code, description string) {
		s.redirectError(w, r, redirectURI, state, code, description)
	}

	if q.Get("response_type") != "code" {
		fail("unsupported_response_type", "response_type must be 'code'")
		return
	}
	challenge := q.Get("code_challenge")
	if challenge == "" {
		fail("invalid_request", "code_challenge is required")
		return
	}
	if q.Get("code_challenge_method") != "S256" {
		fail("invalid_request", "code_challenge_method must be S256")
		return
	}
	scope := q.Get("scope")
	if scope == "" {
		scope = client.Scope
	}

	code := randomSecret()
	s.codes.Put(&authCode{
		Code:          code,
		ClientID:      client.ID,
		RedirectURI:   redirectURI,
		CodeChallenge: challenge,
		Scope:         scope,
		Subject:       client.ID,
		ExpiresAt:     s.now().Add(CodeTTL),
	})

	target, _ := url.Parse(redirectURI)
	values := target.Query()
	values.Set("code", code)
	if state != "" {
		values.Set("state", state)
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, description, http.StatusBadRequest)
		return
	}
	values := target.Query()
	values.Set("error", code)
	values.Set("error_description", description)
	if state != "" {
		values.Set("state", state)
	}
	target.RawQuery = values.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// tokenRequest carries the token endpoint parameters, accepted as either a
// form body or JSON.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTokenRequest(w, r)
	if !ok {
		return
	}

	if req.GrantType != "authorization_code" {
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", "only authorization_code is supported")
		return
	}

	client, err := s.clients.Get(r.Context(), req.ClientID)
	if err != nil {
		tokenError(w, http.StatusUnauthorized, "invalid_client", "unknown client_id")
		return
	}
	if client.TokenEndpointAuthMethod == "client_secret_post" {
		if subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(client.Secret)) != 1 {
			tokenError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}
	}

	record, err := s.codes.Consume(req.Code)
	if err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid, expired, or already used")
		return
	}
	if record.ClientID != client.ID {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "authorization code was issued to a different client")
		return
	}
	if record.RedirectURI != req.RedirectURI {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match the authorization request")
		return
	}

	if len(req.CodeVerifier) < 43 || len(req.CodeVerifier) > 128 {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "code_verifier length is out of range")
		return
	}
	computed := oauth2.S256ChallengeFromVerifier(req.CodeVerifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(record.CodeChallenge)) != 1 {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}

	token, err := s.issueToken(record.Subject, record.Scope)
	if err != nil {
		logger.Errorw("failed to sign access token", "error", err)
		tokenError(w, http.StatusInternalServerError, "server_error", "failed to issue token")
		return
	}

	if s.metrics != nil {
		s.metrics.TokenIssued()
	}
	logger.Infow("issued access token", "client_id", client.ID, "scope", record.Scope)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(s.cfg.TokenExpiry.Seconds()),
		"scope":        record.Scope,
	})
}

// issueToken mints the HS256 access token with the full required claim set.
func (s *Server) issueToken(subject, scope string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   s.cfg.Issuer,
		"sub":   subject,
		"aud":   s.cfg.ResourceURL,
		"iat":   now.Unix(),
		"exp":   now.Add(s.cfg.TokenExpiry).Unix(),
		"jti":   uuid.NewString(),
		"scope": scope,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
}

func decodeTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, bool) {
	var req tokenRequest
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			tokenError(w, http.StatusBadRequest, "invalid_request", "invalid JSON request body")
			return req, false
		}
		return req, true
	}
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", "invalid form body")
		return req, false
	}
	req.GrantType = r.PostFormValue("grant_type")
	req.Code = r.PostFormValue("code")
	req.RedirectURI = r.PostFormValue("redirect_uri")
	req.ClientID = r.PostFormValue("client_id")
	req.ClientSecret = r.PostFormValue("client_secret")
	req.CodeVerifier = r.PostFormValue("code_verifier")
	return req, true
}

func tokenError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]any{
		"error":             code,
		"error_description": description,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnf("failed to encode response: %v", err)
	}
}

// randomSecret returns 256 bits of entropy, base64url encoded.
func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

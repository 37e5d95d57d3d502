package authserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

var flowSecret = []byte("test-signing-key-test-signing-key")

const flowIssuer = "https://auth.example.com"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(Config{
		Issuer:      flowIssuer,
		ResourceURL: flowIssuer + "/sse",
		JWTSecret:   flowSecret,
	}, NewMemoryClientStore())
	t.Cleanup(func() { require.NoError(t, srv.Close()) })

	router := chi.NewRouter()
	srv.Routes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return srv, ts
}

func registerClient(t *testing.T, ts *httptest.Server, redirectURI string) DCRResponse {
	t.Helper()
	body, err := json.Marshal(DCRRequest{
		RedirectURIs: []string{redirectURI},
		ClientName:   "flow-test",
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out DCRResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.ClientID)
	require.NotEmpty(t, out.ClientSecret)
	return out
}

// authorize runs the authorization request without following the redirect and
// returns the parsed redirect location query.
func authorize(t *testing.T, ts *httptest.Server, params url.Values) (url.Values, int) {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(ts.URL + "/authorize?" + params.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return nil, resp.StatusCode
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query(), resp.StatusCode
}

func exchangeCode(t *testing.T, ts *httptest.Server, form url.Values) (map[string]any, int) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/token", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body, resp.StatusCode
}

func TestMetadataEndpoints(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/.well-known/oauth-authorization-server")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&meta))
	assert.Equal(t, flowIssuer, meta["issuer"])
	assert.Equal(t, flowIssuer+"/authorize", meta["authorization_endpoint"])
	assert.Equal(t, flowIssuer+"/token", meta["token_endpoint"])
	assert.Equal(t, flowIssuer+"/register", meta["registration_endpoint"])
	assert.Equal(t, []any{"S256"}, meta["code_challenge_methods_supported"])
	assert.Equal(t, []any{"authorization_code"}, meta["grant_types_supported"])

	resp, err = http.Get(ts.URL + "/.well-known/oauth-protected-resource")
	require.NoError(t, err)
	defer resp.Body.Close()

	var pr map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pr))
	assert.Equal(t, flowIssuer+"/sse", pr["resource"])
	assert.Equal(t, []any{flowIssuer}, pr["authorization_servers"])
}

func TestRegisterRejectsInvalidMetadata(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/register", "application/json",
		strings.NewReader(`{"redirect_uris":["http://evil.example.com/cb"]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var dcrErr DCRError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&dcrErr))
	assert.Equal(t, dcrErrorInvalidRedirectURI, dcrErr.Error)
}

func TestFullAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)

	const redirectURI = "http://127.0.0.1:49152/callback"
	client := registerClient(t, ts, redirectURI)

	verifier := oauth2.GenerateVerifier()
	query, status := authorize(t, ts, url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"state":                 {"xyzzy"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	})
	require.Equal(t, http.StatusFound, status)
	assert.Equal(t, "xyzzy", query.Get("state"))
	code := query.Get("code")
	require.NotEmpty(t, code)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {client.ClientID},
		"code_verifier": {verifier},
	}
	body, status := exchangeCode(t, ts, form)
	require.Equal(t, http.StatusOK, status, "token response: %v", body)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, DefaultScope, body["scope"])
	assert.EqualValues(t, 3600, body["expires_in"])

	// The access token must parse against the shared secret with the full
	// claim set.
	raw, _ := body["access_token"].(string)
	require.NotEmpty(t, raw)

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return flowSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	assert.Equal(t, flowIssuer, claims["iss"])
	assert.Equal(t, client.ClientID, claims["sub"])
	assert.Equal(t, flowIssuer+"/sse", claims["aud"])
	assert.Equal(t, DefaultScope, claims["scope"])
	assert.NotEmpty(t, claims["jti"])
	assert.NotNil(t, claims["iat"])
	assert.NotNil(t, claims["exp"])

	// Authorization codes are single-use.
	body, status = exchangeCode(t, ts, form)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestAuthorizeRejectsUnknownClientAndRedirect(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	client := registerClient(t, ts, "https://app.example.com/cb")

	_, status := authorize(t, ts, url.Values{
		"client_id":     {"nope"},
		"redirect_uri":  {"https://app.example.com/cb"},
		"response_type": {"code"},
	})
	assert.Equal(t, http.StatusBadRequest, status)

	// An unregistered redirect URI never receives a redirect.
	_, status = authorize(t, ts, url.Values{
		"client_id":     {client.ClientID},
		"redirect_uri":  {"https://evil.example.com/cb"},
		"response_type": {"code"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuthorizeRedirectErrors(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	const redirectURI = "https://app.example.com/cb"
	client := registerClient(t, ts, redirectURI)

	base := func() url.Values {
		return url.Values{
			"client_id":             {client.ClientID},
			"redirect_uri":          {redirectURI},
			"response_type":         {"code"},
			"state":                 {"st"},
			"code_challenge":        {oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())},
			"code_challenge_method": {"S256"},
		}
	}

	params := base()
	params.Set("response_type", "token")
	query, status := authorize(t, ts, params)
	require.Equal(t, http.StatusFound, status)
	assert.Equal(t, "unsupported_response_type", query.Get("error"))
	assert.Equal(t, "st", query.Get("state"))

	params = base()
	params.Del("code_challenge")
	query, _ = authorize(t, ts, params)
	assert.Equal(t, "invalid_request", query.Get("error"))

	params = base()
	params.Set("code_challenge_method", "plain")
	query, _ = authorize(t, ts, params)
	assert.Equal(t, "invalid_request", query.Get("error"))
}

func TestTokenEndpointFailures(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	const redirectURI = "https://app.example.com/cb"
	client := registerClient(t, ts, redirectURI)

	issueCode := func(verifier string) string {
		query, status := authorize(t, ts, url.Values{
			"client_id":             {client.ClientID},
			"redirect_uri":          {redirectURI},
			"response_type":         {"code"},
			"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
			"code_challenge_method": {"S256"},
		})
		require.Equal(t, http.StatusFound, status)
		return query.Get("code")
	}

	body, status := exchangeCode(t, ts, url.Values{"grant_type": {"client_credentials"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "unsupported_grant_type", body["error"])

	body, status = exchangeCode(t, ts, url.Values{
		"grant_type": {"authorization_code"},
		"client_id":  {"nope"},
		"code":       {"whatever"},
	})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_client", body["error"])

	body, status = exchangeCode(t, ts, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"code":          {"never-issued"},
		"redirect_uri":  {redirectURI},
		"code_verifier": {oauth2.GenerateVerifier()},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])

	// Wrong verifier burns the code.
	verifier := oauth2.GenerateVerifier()
	code := issueCode(verifier)
	body, status = exchangeCode(t, ts, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {oauth2.GenerateVerifier()},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])

	// Redirect URI must match the one bound to the code.
	verifier = oauth2.GenerateVerifier()
	code = issueCode(verifier)
	body, status = exchangeCode(t, ts, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"code":          {code},
		"redirect_uri":  {"https://app.example.com/other"},
		"code_verifier": {verifier},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])

	// Verifier shorter than the RFC 7636 minimum is refused outright.
	verifier = oauth2.GenerateVerifier()
	code = issueCode(verifier)
	body, status = exchangeCode(t, ts, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {client.ClientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {"too-short"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestTokenEndpointJSONBody(t *testing.T) {
	t.Parallel()

	_, ts := newTestServer(t)
	const redirectURI = "https://app.example.com/cb"
	client := registerClient(t, ts, redirectURI)

	verifier := oauth2.GenerateVerifier()
	query, status := authorize(t, ts, url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	})
	require.Equal(t, http.StatusFound, status)

	payload, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"code":          query.Get("code"),
		"redirect_uri":  redirectURI,
		"client_id":     client.ClientID,
		"code_verifier": verifier,
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/token", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["access_token"])
}

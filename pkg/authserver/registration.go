package authserver

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/auth"
)

// DCR error codes per RFC 7591 Section 3.2.2.
const (
	dcrErrorInvalidRedirectURI    = "invalid_redirect_uri"
	dcrErrorInvalidClientMetadata = "invalid_client_metadata"
)

// Validation limits keep registration requests bounded.
const (
	maxRedirectURICount = 10
	maxClientNameLength = 256
)

// DCRRequest is an RFC 7591 registration request body.
type DCRRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// DCRResponse is an RFC 7591 registration response body.
type DCRResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}

// DCRError is an RFC 7591 registration error body.
type DCRError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

var allowedAuthMethods = map[string]bool{
	"none":               true,
	"client_secret_post": true,
}

var defaultGrantTypes = []string{"authorization_code"}

var allowedGrantTypes = map[string]bool{
	"authorization_code": true,
}

var defaultResponseTypes = []string{"code"}

var allowedResponseTypes = map[string]bool{
	"code": true,
}

// ValidateDCRRequest checks a registration request and returns a copy with
// defaults applied.
func ValidateDCRRequest(req *DCRRequest) (*DCRRequest, *DCRError) {
	if len(req.RedirectURIs) == 0 {
		return nil, &DCRError{
			Error:            dcrErrorInvalidRedirectURI,
			ErrorDescription: "redirect_uris is required",
		}
	}
	if len(req.RedirectURIs) > maxRedirectURICount {
		return nil, &DCRError{
			Error:            dcrErrorInvalidRedirectURI,
			ErrorDescription: fmt.Sprintf("too many redirect_uris (maximum %d)", maxRedirectURICount),
		}
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	if len(req.ClientName) > maxClientNameLength {
		return nil, &DCRError{
			Error:            dcrErrorInvalidClientMetadata,
			ErrorDescription: fmt.Sprintf("client_name too long (maximum %d characters)", maxClientNameLength),
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "none"
	}
	if !allowedAuthMethods[authMethod] {
		return nil, &DCRError{
			Error:            dcrErrorInvalidClientMetadata,
			ErrorDescription: "token_endpoint_auth_method must be 'none' or 'client_secret_post'",
		}
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = defaultGrantTypes
	}
	if !slices.Contains(grantTypes, "authorization_code") {
		return nil, &DCRError{
			Error:            dcrErrorInvalidClientMetadata,
			ErrorDescription: "grant_types must include 'authorization_code'",
		}
	}
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, &DCRError{
				Error:            dcrErrorInvalidClientMetadata,
				ErrorDescription: "unsupported grant_type: " + gt,
			}
		}
	}

	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = defaultResponseTypes
	}
	for _, rt := range responseTypes {
		if !allowedResponseTypes[rt] {
			return nil, &DCRError{
				Error:            dcrErrorInvalidClientMetadata,
				ErrorDescription: "unsupported response_type: " + rt,
			}
		}
	}

	return &DCRRequest{
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
	}, nil
}

// validateRedirectURI enforces RFC 8252: HTTPS everywhere, HTTP only for
// loopback hosts.
func validateRedirectURI(raw string) *DCRError {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return &DCRError{
			Error:            dcrErrorInvalidRedirectURI,
			ErrorDescription: "redirect_uri is not a valid absolute URI: " + raw,
		}
	}
	if u.Fragment != "" {
		return &DCRError{
			Error:            dcrErrorInvalidRedirectURI,
			ErrorDescription: "redirect_uri must not contain a fragment: " + raw,
		}
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if auth.IsLoopbackHost(u.Hostname()) {
			return nil
		}
		return &DCRError{
			Error:            dcrErrorInvalidRedirectURI,
			ErrorDescription: "http redirect_uri is only allowed for loopback hosts: " + raw,
		}
	default:
		return &DCRError{
			Error:            dcrErrorInvalidRedirectURI,
			ErrorDescription: "redirect_uri scheme must be https or loopback http: " + raw,
		}
	}
}

// matchRedirectURI compares a presented redirect URI against a registered
// one. Loopback URIs match on any port per RFC 8252 Section 7.3; everything
// else must match exactly.
func matchRedirectURI(registered, presented string) bool {
	if registered == presented {
		return true
	}
	ru, err := url.Parse(registered)
	if err != nil {
		return false
	}
	pu, err := url.Parse(presented)
	if err != nil {
		return false
	}
	if ru.Scheme != "http" || pu.Scheme != "http" {
		return false
	}
	if !auth.IsLoopbackHost(ru.Hostname()) || !auth.IsLoopbackHost(pu.Hostname()) {
		return false
	}
	return ru.Hostname() == pu.Hostname() && ru.Path == pu.Path
}

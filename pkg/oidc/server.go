package oidc

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Plawn/r2e-sub001/pkg/api"
	apperrors "github.com/Plawn/r2e-sub001/pkg/errors"
	"github.com/Plawn/r2e-sub001/pkg/identity"
)

const (
	TokenPath     = "/oauth/token"
	DiscoveryPath = "/.well-known/openid-configuration"
	JWKSPath      = "/.well-known/jwks.json"
	UserinfoPath  = "/userinfo"
)

// TokenResponse is the body of a successful token request.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// OAuthError is the RFC 6749 error body.
type OAuthError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// Discovery is the subset of the OpenID provider metadata we serve.
type Discovery struct {
	Issuer                    string   `json:"issuer"`
	TokenEndpoint             string   `json:"token_endpoint"`
	JWKSURI                   string   `json:"jwks_uri"`
	UserinfoEndpoint          string   `json:"userinfo_endpoint"`
	GrantTypesSupported       []string `json:"grant_types_supported"`
	ResponseTypesSupported    []string `json:"response_types_supported"`
	SubjectTypesSupported     []string `json:"subject_types_supported"`
	SigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethods  []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported           []string `json:"claims_supported"`
}

// Server serves the provider endpoints.
type Server struct {
	tokens    *TokenService
	users     *UserStore
	clients   *ClientStore
	extractor *identity.Extractor
	basePath  string
	logger    *zap.Logger
}

// NewServer creates a server. users and clients may be nil, disabling the
// corresponding grant.
func NewServer(tokens *TokenService, users *UserStore, clients *ClientStore, basePath string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		tokens:    tokens,
		users:     users,
		clients:   clients,
		extractor: identity.NewExtractor(tokens.Validator()),
		basePath:  strings.TrimSuffix(basePath, "/"),
		logger:    logger,
	}
}

// Tokens returns the token service.
func (s *Server) Tokens() *TokenService { return s.tokens }

// Register adds the endpoints to r under the base path.
func (s *Server) Register(r chi.Router) {
	r.Post(s.basePath+TokenPath, s.token)
	r.Get(s.basePath+DiscoveryPath, s.discovery)
	r.Get(s.basePath+JWKSPath, s.jwks)
	r.Get(s.basePath+UserinfoPath, s.userinfo)
}

// Router returns a standalone router serving the endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

func oauthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
	}
	api.Success(w, status, OAuthError{Error: code, Description: description})
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		oauthError(w, http.StatusBadRequest, "invalid_request", "Malformed form body")
		return
	}

	var (
		subject, email string
		roles          []string
		extra          map[string]interface{}
	)
	switch grant := r.PostForm.Get("grant_type"); grant {
	case "password":
		if s.users == nil {
			oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "Password grant is disabled")
			return
		}
		username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
		if username == "" || password == "" {
			oauthError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
			return
		}
		u, err := s.users.Authenticate(username, password)
		if err != nil {
			s.logger.Info("Password grant rejected", zap.String("username", username))
			oauthError(w, http.StatusBadRequest, "invalid_grant", "Invalid username or password")
			return
		}
		subject, email, roles, extra = u.Subject, u.Email, u.Roles, u.Extra

	case "client_credentials":
		if s.clients == nil {
			oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "Client credentials grant is disabled")
			return
		}
		id, secret, ok := r.BasicAuth()
		if !ok {
			id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		c, err := s.clients.Authenticate(id, secret)
		if err != nil {
			s.logger.Info("Client credentials grant rejected", zap.String("client_id", id))
			oauthError(w, http.StatusUnauthorized, "invalid_client", "Invalid client credentials")
			return
		}
		subject, roles = c.ID, c.Roles

	case "":
		oauthError(w, http.StatusBadRequest, "invalid_request", "grant_type is required")
		return
	default:
		oauthError(w, http.StatusBadRequest, "unsupported_grant_type", "Unsupported grant type: "+grant)
		return
	}

	signed, err := s.tokens.Issue(subject, email, roles, extra)
	if err != nil {
		apperrors.WriteHTTPError(w, apperrors.Internal("TOKEN_SIGNING_FAILED", apperrors.InternalMessage).WithCause(err).Build(), s.logger)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	api.Success(w, http.StatusOK, TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	})
}

func (s *Server) endpoint(path string) string {
	return strings.TrimSuffix(s.tokens.Issuer(), "/") + s.basePath + path
}

// Discovery returns the provider metadata document.
func (s *Server) Discovery() Discovery {
	return Discovery{
		Issuer:                    s.tokens.Issuer(),
		TokenEndpoint:             s.endpoint(TokenPath),
		JWKSURI:                   s.endpoint(JWKSPath),
		UserinfoEndpoint:          s.endpoint(UserinfoPath),
		GrantTypesSupported:       []string{"password", "client_credentials"},
		ResponseTypesSupported:    []string{"token"},
		SubjectTypesSupported:     []string{"public"},
		SigningAlgValuesSupported: []string{"RS256"},
		TokenEndpointAuthMethods:  []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported:           []string{"sub", "iss", "aud", "exp", "iat", "email", "roles"},
	}
}

func (s *Server) discovery(w http.ResponseWriter, _ *http.Request) {
	api.Success(w, http.StatusOK, s.Discovery())
}

func (s *Server) jwks(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	api.Success(w, http.StatusOK, s.tokens.Keys().JWKS())
}

func (s *Server) userinfo(w http.ResponseWriter, r *http.Request) {
	id, err := s.extractor.Required(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		apperrors.WriteHTTPError(w, err, s.logger)
		return
	}

	body := map[string]interface{}{}
	for k, v := range id.Claims() {
		if _, ok := reserved[k]; !ok {
			body[k] = v
		}
	}
	body["sub"] = id.Sub()
	body["roles"] = identity.SortedRoles(id)
	if email, ok := id.Email(); ok {
		body["email"] = email
	}
	api.Success(w, http.StatusOK, body)
}

package core

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/sp"
	"github.com/ssokit/samlcore/internal/validate"
)

// Server is the HTTP front for the service provider
type Server struct {
	config  *Config
	sp      *sp.ServiceProvider
	router  chi.Router
	version string
}

// NewServer creates a new server instance
func NewServer(cfg *Config, provider *sp.ServiceProvider) *Server {
	s := &Server{
		config:  cfg,
		sp:      provider,
		version: "1.0.0",
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimiter := NewRateLimiter(100, time.Minute)
	r.Use(rateLimiter.Limit)

	// Health check
	r.Get("/health", s.handleHealth)

	// SAML endpoints
	r.Route(s.config.PathPrefix, func(r chi.Router) {
		r.Get("/metadata", s.handleMetadata)
		r.Get("/providers", s.handleListProviders)
		r.Get("/authenticate", s.handleAuthenticate)
		r.Post("/SSO", s.handleACS)
		r.Get("/SSO", s.handleACSRedirect)
	})

	s.router = r
}

// Health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.version,
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	data, err := s.sp.Metadata(s.config.EntityID)
	if err != nil {
		log.Printf("metadata generation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "metadata unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type ProviderListResponse struct {
	Providers []string `json:"providers"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := s.sp.TrustedIdPs(s.config.EntityID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "provider listing unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ProviderListResponse{Providers: providers})
}

// handleAuthenticate starts the login flow: it picks the requested IdP,
// prepares an AuthnRequest and sends the browser to the IdP's SSO
// endpoint over the redirect binding.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	idpEntityID := r.URL.Query().Get("idp")
	if idpEntityID == "" {
		providers, err := s.sp.TrustedIdPs(s.config.EntityID)
		if err != nil || len(providers) != 1 {
			writeError(w, http.StatusBadRequest, "idp query parameter required")
			return
		}
		idpEntityID = providers[0]
	}

	login, err := s.sp.BuildAuthnRequest(s.config.EntityID, idpEntityID, saml.BindingRedirect)
	if err != nil {
		log.Printf("authn request build failed for %s: %v", idpEntityID, err)
		writeError(w, http.StatusBadRequest, "unknown identity provider")
		return
	}

	http.Redirect(w, r, login.RedirectURL, http.StatusFound)
}

type IdentityResponse struct {
	NameID     string            `json:"name_id"`
	Format     string            `json:"format,omitempty"`
	IdP        string            `json:"idp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// handleACS consumes the SAMLResponse posted back by the IdP. Every
// rejection produces the same public message; the specific reason goes to
// the server log only, so a probing client cannot map the checks.
func (s *Server) handleACS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusForbidden, "authentication failed")
		return
	}
	value := r.PostFormValue("SAMLResponse")
	if value == "" {
		writeError(w, http.StatusForbidden, "authentication failed")
		return
	}

	s.consumeAndRespond(w, value, saml.BindingPost)
}

// handleACSRedirect accepts responses delivered over the redirect binding.
func (s *Server) handleACSRedirect(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("SAMLResponse")
	if value == "" {
		writeError(w, http.StatusForbidden, "authentication failed")
		return
	}
	s.consumeAndRespond(w, value, saml.BindingRedirect)
}

func (s *Server) consumeAndRespond(w http.ResponseWriter, value string, binding saml.Binding) {
	identity, err := s.sp.ConsumeResponse(value, binding, s.config.EntityID)
	if err != nil {
		log.Printf("response rejected: %v", err)
		msg := "authentication failed"
		var failure *validate.Failure
		if errors.As(err, &failure) {
			msg = failure.PublicMessage()
		}
		writeError(w, http.StatusForbidden, msg)
		return
	}

	resp := IdentityResponse{
		NameID: identity.NameID,
		Format: identity.NameIDFormat,
		IdP:    identity.IdPEntityID,
	}
	if len(identity.Attributes) > 0 {
		resp.Attributes = make(map[string]string, len(identity.Attributes))
		for _, a := range identity.Attributes {
			if len(a.Values) > 0 {
				resp.Attributes[a.Name] = a.Values[0]
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

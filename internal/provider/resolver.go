// Package provider maps hosted service providers to the identity providers
// they trust. One SP may trust many IdPs at once; lookups are exact,
// case-sensitive entity-identifier matches on the validation hot path.
package provider

import (
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/xmlsec"
)

// ErrProviderNotFound is returned when an entity identifier is not
// registered. Callers must treat it as a hard rejection; there is no
// default provider to fall back to.
var ErrProviderNotFound = errors.New("provider: not found")

// ServiceProvider is the local, hosted side of the trust relationship.
type ServiceProvider struct {
	EntityID             string
	ACSURL               string
	SLOURL               string
	KeyPair              *xmlsec.KeyPair
	WantAssertionsSigned bool
}

// Metadata builds the EntityDescriptor this SP publishes.
func (sp *ServiceProvider) Metadata() *saml.EntityDescriptor {
	cfg := saml.SPMetadataConfig{
		EntityID:             sp.EntityID,
		ACSURL:               sp.ACSURL,
		SLOURL:               sp.SLOURL,
		WantAssertionsSigned: sp.WantAssertionsSigned,
	}
	if sp.KeyPair != nil {
		cfg.Certificate = sp.KeyPair.Certificate
	}
	return saml.NewSPMetadata(cfg)
}

// IdentityProvider is the resolved trust anchor for one remote IdP:
// its entity identifier, endpoints, and published signing certificates.
// Immutable once registered.
type IdentityProvider struct {
	EntityID     string
	SSOEndpoints map[string]string // binding URI -> location
	SLOEndpoints map[string]string
	SigningCerts []*x509.Certificate
}

// SSOLocation returns the IdP's single sign-on URL for a binding.
func (idp *IdentityProvider) SSOLocation(binding string) (string, bool) {
	loc, ok := idp.SSOEndpoints[binding]
	return loc, ok
}

type localEntry struct {
	sp      *ServiceProvider
	remotes map[string]*IdentityProvider
}

// Resolver is the keyed trust table. Registration happens at configuration
// load; lookups afterwards are read-mostly, so a RWMutex suffices.
type Resolver struct {
	mu     sync.RWMutex
	locals map[string]*localEntry
}

// NewResolver creates an empty resolver. Tests construct isolated instances
// per scenario; nothing here is ambient or global.
func NewResolver() *Resolver {
	return &Resolver{locals: make(map[string]*localEntry)}
}

// RegisterLocal adds a hosted SP configuration.
func (r *Resolver) RegisterLocal(sp *ServiceProvider) error {
	if sp == nil || sp.EntityID == "" {
		return fmt.Errorf("provider: service provider needs an entity ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.locals[sp.EntityID]; exists {
		return fmt.Errorf("provider: %s already registered", sp.EntityID)
	}
	r.locals[sp.EntityID] = &localEntry{
		sp:      sp,
		remotes: make(map[string]*IdentityProvider),
	}
	return nil
}

// RegisterRemoteMetadata parses already-fetched IdP metadata and records the
// IdP as trusted by the named SP. Fetching metadata over the network is the
// caller's concern.
func (r *Resolver) RegisterRemoteMetadata(spEntityID string, md *saml.EntityDescriptor) error {
	certs, err := md.SigningCertificates()
	if err != nil {
		return err
	}

	idp := &IdentityProvider{
		EntityID:     md.EntityID,
		SSOEndpoints: make(map[string]string),
		SLOEndpoints: make(map[string]string),
		SigningCerts: certs,
	}
	for _, ep := range md.IDPSSODescriptor.SingleSignOnServices {
		idp.SSOEndpoints[ep.Binding] = ep.Location
	}
	for _, ep := range md.IDPSSODescriptor.SingleLogoutServices {
		idp.SLOEndpoints[ep.Binding] = ep.Location
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.locals[spEntityID]
	if !ok {
		return ErrProviderNotFound
	}
	entry.remotes[idp.EntityID] = idp
	return nil
}

// ResolveLocal looks up a hosted SP by entity identifier.
func (r *Resolver) ResolveLocal(spEntityID string) (*ServiceProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.locals[spEntityID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return entry.sp, nil
}

// ResolveRemote looks up an IdP trusted by the named SP.
func (r *Resolver) ResolveRemote(spEntityID, idpEntityID string) (*IdentityProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.locals[spEntityID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	idp, ok := entry.remotes[idpEntityID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return idp, nil
}

// ListTrustedRemotes returns the entity identifiers of every IdP the named
// SP trusts, sorted for stable output.
func (r *Resolver) ListTrustedRemotes(spEntityID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.locals[spEntityID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	ids := make([]string, 0, len(entry.remotes))
	for id := range entry.remotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

package core

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ssokit/samlcore/internal/provider"
	"github.com/ssokit/samlcore/internal/saml"
	"github.com/ssokit/samlcore/internal/sp"
	"github.com/ssokit/samlcore/internal/xmlsec"
)

// BootstrapResult holds the initialized service-provider stack.
type BootstrapResult struct {
	Config   *Config
	Resolver *provider.Resolver
	SP       *sp.ServiceProvider
}

// Bootstrap loads configuration, key material and IdP trust, and wires the
// facade the server hands requests to.
func Bootstrap() (*BootstrapResult, error) {
	cfg := LoadConfig()

	keyPair, err := loadKeyPair(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key material: %w", err)
	}

	resolver := provider.NewResolver()
	local := &provider.ServiceProvider{
		EntityID: cfg.EntityID,
		ACSURL:   cfg.BaseURL + cfg.PathPrefix + "/SSO",
		KeyPair:  keyPair,
	}
	if err := resolver.RegisterLocal(local); err != nil {
		return nil, err
	}
	log.Printf("Hosted SP registered: %s", cfg.EntityID)

	for _, file := range cfg.IdPMetadataFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read IdP metadata %s: %w", file, err)
		}
		md, err := saml.ParseMetadata(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse IdP metadata %s: %w", file, err)
		}
		if err := resolver.RegisterRemoteMetadata(cfg.EntityID, md); err != nil {
			return nil, fmt.Errorf("failed to register IdP %s: %w", md.EntityID, err)
		}
		log.Printf("Trusted IdP registered: %s", md.EntityID)
	}

	facade := sp.New(resolver, sp.Options{
		RequestLifetime: cfg.RequestLifetime,
		Validation:      cfg.ValidationConfig(),
	})

	return &BootstrapResult{
		Config:   cfg,
		Resolver: resolver,
		SP:       facade,
	}, nil
}

func loadKeyPair(cfg *Config) (*xmlsec.KeyPair, error) {
	if cfg.KeyFile == "" && cfg.CertFile == "" {
		if !cfg.IsDevelopment() {
			return nil, fmt.Errorf("SP_KEY_FILE and SP_CERT_FILE are required outside development")
		}
		log.Println("No key material configured, generating a self-signed pair")
		return xmlsec.GenerateKeyPair(cfg.EntityID, 365*24*time.Hour)
	}

	keyPEM, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	key, err := xmlsec.ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	certPEM, err := os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, err
	}
	cert, err := xmlsec.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	return &xmlsec.KeyPair{PrivateKey: key, Certificate: cert}, nil
}

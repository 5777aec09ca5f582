// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"captcha-relay/internal/common/validation"
)

const (
	RecaptchaID = "recaptcha"
	HCaptchaID  = "hcaptcha"
	TurnstileID = "turnstile"
)

var ErrProviderNotFound = errors.New("provider not found")

var fileValidator = validation.MustCompile(validation.JSONSchema{
	Type: "object",
	Properties: map[string]validation.Property{
		"version":     {Type: "string"},
		"lastUpdated": {Type: "string"},
		"providers": {
			Type: "array",
			Items: &validation.Property{
				Type: "object",
				Properties: map[string]validation.Property{
					"id":               {Type: "string", MinLength: validation.Int(1)},
					"displayName":      {Type: "string"},
					"verifyUrl":        {Type: "string", MinLength: validation.Int(1)},
					"placement":        {Type: "string", Enum: []string{string(PlacementQuery), string(PlacementForm)}},
					"supportsRemoteIp": {Type: "boolean"},
				},
				Required: []string{"id", "verifyUrl", "placement"},
			},
		},
	},
	Required: []string{"providers"},
})

// Builtin returns the providers the relay knows without a registry file.
func Builtin() *ProviderRegistry {
	return &ProviderRegistry{
		Version: "1.0.0",
		Providers: []Provider{
			{
				ID:               RecaptchaID,
				DisplayName:      "Google reCAPTCHA",
				VerifyURL:        "https://www.google.com/recaptcha/api/siteverify",
				Placement:        PlacementQuery,
				SupportsRemoteIP: true,
				Tags:             []string{"v2", "v3"},
			},
			{
				ID:               HCaptchaID,
				DisplayName:      "hCaptcha",
				VerifyURL:        "https://api.hcaptcha.com/siteverify",
				Placement:        PlacementForm,
				SupportsRemoteIP: true,
			},
			{
				ID:               TurnstileID,
				DisplayName:      "Cloudflare Turnstile",
				VerifyURL:        "https://challenges.cloudflare.com/turnstile/v0/siteverify",
				Placement:        PlacementForm,
				SupportsRemoteIP: true,
			},
		},
	}
}

// LoadRegistry reads and validates a registry file.
func LoadRegistry(path string) (*ProviderRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if result := fileValidator.ValidateBytes(data); !result.Valid {
		return nil, fmt.Errorf("invalid registry %s: %s", path, strings.Join(result.GetErrorMessages(), "; "))
	}

	var reg ProviderRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to decode registry %s: %w", path, err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Lookup finds a provider by ID, case-insensitively.
func (r *ProviderRegistry) Lookup(id string) (Provider, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range r.Providers {
		if p.ID == id {
			return p, nil
		}
	}
	return Provider{}, fmt.Errorf("%w: %q", ErrProviderNotFound, id)
}

// IDs lists the registered provider IDs in file order.
func (r *ProviderRegistry) IDs() []string {
	ids := make([]string, 0, len(r.Providers))
	for _, p := range r.Providers {
		ids = append(ids, p.ID)
	}
	return ids
}

// Validate checks IDs, URLs and placements, and rejects duplicates.
func (r *ProviderRegistry) Validate() error {
	if len(r.Providers) == 0 {
		return fmt.Errorf("registry contains no providers")
	}

	ids := make(map[string]bool, len(r.Providers))
	for _, p := range r.Providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate provider ID: %s", p.ID)
		}
		ids[p.ID] = true
	}
	return nil
}

func (p Provider) Validate() error {
	if err := validation.ValidateIdentifier(p.ID); err != nil {
		return fmt.Errorf("provider ID: %w", err)
	}
	if !validation.ValidateURL(p.VerifyURL) {
		return fmt.Errorf("provider %s has invalid verifyUrl %q", p.ID, p.VerifyURL)
	}
	switch p.Placement {
	case PlacementQuery, PlacementForm:
	default:
		return fmt.Errorf("provider %s has unknown placement %q", p.ID, p.Placement)
	}
	return nil
}

// Add appends a provider after validating it.
func (r *ProviderRegistry) Add(p Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := r.Lookup(p.ID); err == nil {
		return fmt.Errorf("provider with ID %s already exists", p.ID)
	}
	r.Providers = append(r.Providers, p)
	r.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// Save writes the registry as indented JSON, creating parent directories.
func (r *ProviderRegistry) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// Resolve picks the provider for the relay: from the registry file when one
// is configured, otherwise from Builtin.
func Resolve(providersFile, id string) (Provider, error) {
	reg := Builtin()
	if providersFile != "" {
		loaded, err := LoadRegistry(providersFile)
		if err != nil {
			return Provider{}, err
		}
		reg = loaded
	}
	return reg.Lookup(id)
}

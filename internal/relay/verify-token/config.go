package verifytoken

import (
	"fmt"
	"time"

	"captcha-relay/internal/common/config"
	"captcha-relay/internal/common/validation"
	"captcha-relay/pkg/registry"
)

const DefaultMaxBodyBytes int64 = 16 << 10

type Config struct {
	ProviderID      string             `mapstructure:"provider"`
	VerifyURL       string             `mapstructure:"verify_url"`
	Placement       registry.Placement `mapstructure:"placement"`
	SecretKey       string             `mapstructure:"secret_key"`
	Timeout         time.Duration      `mapstructure:"timeout"`
	ForwardClientIP bool               `mapstructure:"forward_client_ip"`
	MaxBodyBytes    int64              `mapstructure:"max_body_bytes"`
}

func DefaultConfig() *Config {
	recaptcha, _ := registry.Builtin().Lookup(registry.RecaptchaID)
	return &Config{
		ProviderID:      recaptcha.ID,
		VerifyURL:       recaptcha.VerifyURL,
		Placement:       recaptcha.Placement,
		Timeout:         5 * time.Second,
		ForwardClientIP: false,
		MaxBodyBytes:    DefaultMaxBodyBytes,
	}
}

func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key is required")
	}
	if !validation.ValidateURL(c.VerifyURL) {
		return fmt.Errorf("verify_url %q is not a valid http(s) URL", c.VerifyURL)
	}
	switch c.Placement {
	case registry.PlacementQuery, registry.PlacementForm:
	default:
		return fmt.Errorf("placement must be %q or %q", registry.PlacementQuery, registry.PlacementForm)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	return nil
}

// createConfigFromAppConfig resolves the provider and overlays the upstream
// settings from the application config. A custom config wins outright.
func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) (*Config, error) {
	if customConfig != nil {
		return customConfig, nil
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg, nil
	}

	up := appConfig.Upstream
	provider, err := registry.Resolve(up.ProvidersFile, up.Provider)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	cfg.ProviderID = provider.ID
	cfg.VerifyURL = provider.VerifyURL
	cfg.Placement = provider.Placement
	if up.VerifyURL != "" {
		cfg.VerifyURL = up.VerifyURL
	}
	cfg.SecretKey = up.SecretKey
	if up.Timeout > 0 {
		cfg.Timeout = config.GetDuration(up.Timeout)
	}
	cfg.ForwardClientIP = up.ForwardClientIP && provider.SupportsRemoteIP

	return cfg, nil
}

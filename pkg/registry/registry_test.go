package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltin(t *testing.T) {
	reg := Builtin()
	require.NoError(t, reg.Validate())
	assert.Equal(t, []string{RecaptchaID, HCaptchaID, TurnstileID}, reg.IDs())

	p, err := reg.Lookup(" ReCaptcha ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.google.com/recaptcha/api/siteverify", p.VerifyURL)
	assert.Equal(t, PlacementQuery, p.Placement)

	p, err = reg.Lookup(TurnstileID)
	require.NoError(t, err)
	assert.Equal(t, PlacementForm, p.Placement)
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Builtin().Lookup("friendly-captcha")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProviderNotFound))
}

func TestProviderValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Provider
		wantErr string
	}{
		{name: "valid", p: Provider{ID: "local", VerifyURL: "http://127.0.0.1:9000/siteverify", Placement: PlacementForm}},
		{name: "bad id", p: Provider{ID: "Local Stub", VerifyURL: "http://x.test", Placement: PlacementForm}, wantErr: "provider ID"},
		{name: "bad url", p: Provider{ID: "local", VerifyURL: "file:///etc/passwd", Placement: PlacementForm}, wantErr: "invalid verifyUrl"},
		{name: "bad placement", p: Provider{ID: "local", VerifyURL: "http://x.test", Placement: "header"}, wantErr: "unknown placement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAddSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "providers.json")

	reg := Builtin()
	require.NoError(t, reg.Add(Provider{
		ID:          "local-stub",
		DisplayName: "Local stub",
		VerifyURL:   "http://127.0.0.1:9000/siteverify",
		Placement:   PlacementForm,
	}))
	assert.NotEmpty(t, reg.LastUpdated)

	err := reg.Add(Provider{ID: HCaptchaID, VerifyURL: "https://x.test", Placement: PlacementForm})
	assert.ErrorContains(t, err, "already exists")

	require.NoError(t, reg.Save(path))

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Providers, 4)

	p, err := Resolve(path, "local-stub")
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9000/siteverify", p.VerifyURL)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "not json", content: `providers: []`, wantErr: "invalid registry"},
		{name: "missing providers", content: `{"version":"1"}`, wantErr: "invalid registry"},
		{name: "bad placement", content: `{"providers":[{"id":"x","verifyUrl":"https://x.test","placement":"header"}]}`, wantErr: "invalid registry"},
		{name: "empty list", content: `{"providers":[]}`, wantErr: "no providers"},
		{name: "duplicate", content: `{"providers":[
			{"id":"x","verifyUrl":"https://x.test","placement":"form"},
			{"id":"x","verifyUrl":"https://y.test","placement":"form"}]}`, wantErr: "duplicate provider ID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := LoadRegistry(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolve_DefaultsToBuiltin(t *testing.T) {
	p, err := Resolve("", HCaptchaID)
	require.NoError(t, err)
	assert.Equal(t, "https://api.hcaptcha.com/siteverify", p.VerifyURL)

	_, err = Resolve(filepath.Join(t.TempDir(), "missing.json"), HCaptchaID)
	assert.Error(t, err)
}

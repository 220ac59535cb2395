package partner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	names := r.Names()
	require.NotEmpty(t, names)
	assert.Contains(t, names, "orellfuessli")
	assert.IsIncreasing(t, names)

	for _, name := range names {
		cfg, err := r.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, cfg.Name)
		assert.NotEmpty(t, cfg.PartnerID)
		assert.NotEmpty(t, cfg.Endpoints.All())
		assert.NotEmpty(t, cfg.Endpoints.Token)
	}
}

func TestLookupUnknownPartner(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	_, err = r.Lookup("this tolino partner does not exist")
	require.ErrorIs(t, err, ErrUnknownPartner)
	assert.Contains(t, err.Error(), "orellfuessli")
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name: "minimal partner",
			input: `
[acme]
partner_id = "99"
client_id = "webreader"
scope = "SCOPE_BOSH"

[acme.endpoints]
token = "https://acme.example/oauth2/token"
`,
		},
		{
			name: "missing token endpoint",
			input: `
[acme]
partner_id = "99"
client_id = "webreader"
scope = "SCOPE_BOSH"
`,
			wantErr: true,
		},
		{
			name: "invalid endpoint url",
			input: `
[acme]
partner_id = "99"
client_id = "webreader"
scope = "SCOPE_BOSH"

[acme.endpoints]
token = "not a url"
`,
			wantErr: true,
		},
		{
			name:    "empty document",
			input:   ``,
			wantErr: true,
		},
		{
			name:    "malformed toml",
			input:   `[acme`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Load([]byte(tt.input))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			cfg, err := r.Lookup("acme")
			require.NoError(t, err)
			assert.Equal(t, "99", cfg.PartnerID)
			assert.Equal(t, map[string]string{"token": "https://acme.example/oauth2/token"}, cfg.Endpoints.All())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partners.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[local]
partner_id = "1"
client_id = "webreader"
scope = "SCOPE_BOSH"

[local.endpoints]
token = "http://127.0.0.1:8080/token"

[local.selectors]
username = "#user"
`), 0o600))

	r, err := LoadFile(path)
	require.NoError(t, err)

	cfg, err := r.Lookup("local")
	require.NoError(t, err)
	assert.Equal(t, "#user", cfg.Selectors["username"])
}

func TestLookupReturnsCopy(t *testing.T) {
	r, err := New(Config{
		Name:      "acme",
		PartnerID: "1",
		ClientID:  "webreader",
		Scope:     "SCOPE_BOSH",
		Endpoints: Endpoints{Token: "https://acme.example/token"},
		Selectors: map[string]string{"username": "#u"},
	})
	require.NoError(t, err)

	cfg, err := r.Lookup("acme")
	require.NoError(t, err)
	cfg.Selectors["username"] = "changed"

	again, err := r.Lookup("acme")
	require.NoError(t, err)
	assert.Equal(t, "#u", again.Selectors["username"])
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.RunAddr)
	assert.Equal(t, ":3200", cfg.GRPCAddr)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "", cfg.FileStoragePath)
	assert.Equal(t, "", cfg.DatabaseDSN)
	assert.Equal(t, "default_jwt_secret", cfg.JWTSecret)
	assert.Equal(t, "agent", cfg.AgentID)
	assert.Empty(t, cfg.Peers)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.LegacySlugProblemCode)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_address = ":7000"
base_url = "https://file.example"
agent_id = "from-file"
log_level = "debug"

[peers]
bob = "bob.example:3200"
`), 0o600))

	tests := []struct {
		name  string
		args  []string
		env   map[string]string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "file over defaults",
			args: []string{"-c", path},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":7000", cfg.RunAddr)
				assert.Equal(t, "https://file.example", cfg.BaseURL)
				assert.Equal(t, "from-file", cfg.AgentID)
				assert.Equal(t, "debug", cfg.LogLevel)
				assert.Equal(t, map[string]string{"bob": "bob.example:3200"}, cfg.Peers)
				assert.Equal(t, ":3200", cfg.GRPCAddr)
			},
		},
		{
			name: "flags over file",
			args: []string{"-c", path, "-a", "9000", "-n", "from-flag", "-p", "carol=carol:1,dave=dave:2", "-legacy-slug-code"},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9000", cfg.RunAddr)
				assert.Equal(t, "from-flag", cfg.AgentID)
				assert.Equal(t, map[string]string{"carol": "carol:1", "dave": "dave:2"}, cfg.Peers)
				assert.True(t, cfg.LegacySlugProblemCode)
				assert.Equal(t, "https://file.example", cfg.BaseURL)
			},
		},
		{
			name: "env over flags",
			args: []string{"-a", ":9000", "-b", "flag.example", "-t", "10.0.0.0/8"},
			env: map[string]string{
				"CONFIG":                   path,
				"SERVER_ADDRESS":           "9100",
				"AGENT_ID":                 "from-env",
				"PEERS":                    "erin=erin:3",
				"LEGACY_SLUG_PROBLEM_CODE": "true",
				"TRUSTED_SUBNET":           "192.168.0.0/16",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, ":9100", cfg.RunAddr)
				assert.Equal(t, "from-env", cfg.AgentID)
				assert.Equal(t, map[string]string{"erin": "erin:3"}, cfg.Peers)
				assert.True(t, cfg.LegacySlugProblemCode)
				assert.Equal(t, "192.168.0.0/16", cfg.TrustedSubnet)
				assert.Equal(t, "http://flag.example", cfg.BaseURL)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.args, envMap(tt.env))
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown flag", args: []string{"-x"}},
		{name: "missing config file", args: []string{"-c", filepath.Join(t.TempDir(), "missing.toml")}},
		{name: "bad peers flag", args: []string{"-p", "nohost"}},
		{name: "bad peers env", env: map[string]string{"PEERS": "=addr"}},
		{name: "bad bool env", env: map[string]string{"LEGACY_SLUG_PROBLEM_CODE": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_CreatesStorageDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "negotiations.jsonl")

	cfg, err := Load([]string{"-f", path}, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, path, cfg.FileStoragePath)

	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err, "Directory should be created")
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers(" alice = alice:3200 , ,bob=10.0.0.2:3200")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "alice:3200", "bob": "10.0.0.2:3200"}, peers)

	_, err = ParsePeers("alice")
	assert.ErrorIs(t, err, ErrInvalidPeers)
}

func TestConfig_AddressValidation(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected string
	}{
		{"Port without colon", "9090", ":9090"},
		{"Port with colon", ":9090", ":9090"},
		{"Full address", "localhost:9090", "localhost:9090"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validateAddress(tt.address))
		})
	}
}

func TestConfig_BaseURLValidation(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"URL without protocol", "example.com", "http://example.com"},
		{"URL with http", "http://example.com", "http://example.com"},
		{"URL with https", "https://example.com", "https://example.com"},
		{"URL with path", "example.com/s", "http://example.com/s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validateBaseURL(tt.url))
		})
	}
}

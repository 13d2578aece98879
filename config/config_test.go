package config

import (
	"os"
	"path/filepath"
	"testing"
)

const productionSecret = "0123456789abcdef0123456789abcdef"

var envKeys = []string{
	"ENVIRONMENT", "HOST", "PORT", "BASE_URL", "PROJECT_ROOT",
	"CORS_ALLOWED_ORIGINS", "DATABASE_DRIVER", "DATABASE_URI", "MONGO_URI",
	"DATABASE_NAME", "JWT_SECRET", "SECURE_COOKIE", "TEMPLATES_CACHE",
	"GITHUB_CLIENT_ID", "GITHUB_CLIENT_SECRET", "GITHUB_APP_ID",
	"GITHUB_INSTALLATION_ID", "GITHUB_PRIVATE_KEY_PATH",
}

// clearEnv unsets every variable Load reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	config, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Addr() != "0.0.0.0:8000" {
		t.Errorf("Expected address 0.0.0.0:8000, got %s", config.Addr())
	}
	if config.Database.Driver != DriverMongo {
		t.Errorf("Expected mongo driver, got %s", config.Database.Driver)
	}
	if len(config.CORS.AllowedOrigins) != 1 || config.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard CORS origin, got %v", config.CORS.AllowedOrigins)
	}
	if !config.CORS.AllowCredentials {
		t.Error("Expected credentials to be allowed by default")
	}
	if config.Templates.Cache {
		t.Error("Expected template cache to be off in development")
	}
	if config.GitHub.HasGitHubApp() {
		t.Error("Expected no GitHub App by default")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
environment = "production"

[server]
port = 9000

[database]
driver = "sqlite"
uri = "file.db"

[github]
bulk_limit = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("JWT_SECRET", productionSecret)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Server.Port != 9100 {
		t.Errorf("Expected env to override port, got %d", config.Server.Port)
	}
	if config.Database.Driver != DriverSQLite || config.Database.URI != "file.db" {
		t.Errorf("Unexpected database config %+v", config.Database)
	}
	if config.GitHub.BulkLimit != 5 {
		t.Errorf("Expected bulk limit 5, got %d", config.GitHub.BulkLimit)
	}
	if config.GitHub.BulkConcurrency != 4 {
		t.Errorf("Expected default bulk concurrency to survive, got %d", config.GitHub.BulkConcurrency)
	}
	if !config.Templates.Cache {
		t.Error("Expected template cache in production")
	}

	expected := []string{"https://a.example", "https://b.example"}
	if len(config.CORS.AllowedOrigins) != len(expected) {
		t.Fatalf("Expected %v, got %v", expected, config.CORS.AllowedOrigins)
	}
	for i, origin := range expected {
		if config.CORS.AllowedOrigins[i] != origin {
			t.Errorf("Expected origin %s at %d, got %s", origin, i, config.CORS.AllowedOrigins[i])
		}
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad port", env: map[string]string{"PORT": "abc"}},
		{name: "port out of range", env: map[string]string{"PORT": "70000"}},
		{name: "unknown driver", env: map[string]string{"DATABASE_DRIVER": "postgres"}},
		{name: "bad bool", env: map[string]string{"SECURE_COOKIE": "maybe"}},
		{name: "default secret in production", env: map[string]string{"ENVIRONMENT": "production"}},
		{name: "short secret in production", env: map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "too-short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(""); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestLoadProductionSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", productionSecret)

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Auth.JWTSecret != productionSecret {
		t.Errorf("Expected the secret from the environment, got %q", config.Auth.JWTSecret)
	}
}

func TestLoadTemplateCache(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		want    bool
	}{
		{name: "development default", content: `environment = "development"`, want: false},
		{name: "production default", content: `environment = "production"`, want: true},
		{
			name:    "file disables in production",
			content: "environment = \"production\"\n[templates]\ncache = false\n",
			want:    false,
		},
		{
			name:    "file enables in development",
			content: "[templates]\ncache = true\n",
			want:    true,
		},
		{
			name:    "env wins over file",
			content: "environment = \"production\"\n[templates]\ncache = false\n",
			env:     map[string]string{"TEMPLATES_CACHE": "true"},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("JWT_SECRET", productionSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			config, err := Load(path)
			if err != nil {
				t.Fatalf("Failed to load config: %v", err)
			}
			if config.Templates.Cache != tt.want {
				t.Errorf("Expected cache %v, got %v", tt.want, config.Templates.Cache)
			}
		})
	}
}

func TestLoadNormalizesAPIURL(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[github]\napi_url = \"https://ghe.example/api/v3\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.GitHub.APIURL != "https://ghe.example/api/v3/" {
		t.Errorf("Expected a trailing slash, got %q", config.GitHub.APIURL)
	}
}

func TestResolvePaths(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "static"), 0o755); err != nil {
		t.Fatal(err)
	}
	source := filepath.Join(root, "cmd", "server", "main.go")

	paths := ResolvePaths(source, 3, "")

	if paths.Root != root {
		t.Errorf("Expected root %s, got %s", root, paths.Root)
	}
	if paths.Source != source {
		t.Errorf("Expected source %s, got %s", source, paths.Source)
	}
	if paths.Static != filepath.Join(root, "static") {
		t.Errorf("Unexpected static dir %s", paths.Static)
	}
	if paths.Templates != filepath.Join(root, "templates") {
		t.Errorf("Unexpected templates dir %s", paths.Templates)
	}
	if !paths.StaticExists() {
		t.Error("Expected static dir to exist")
	}
	if paths.TemplatesExists() {
		t.Error("Expected templates dir to be missing")
	}
}

func TestResolvePathsOverride(t *testing.T) {
	override := t.TempDir()

	paths := ResolvePaths("/somewhere/else/cmd/server/main.go", 3, override)

	if paths.Root != override {
		t.Errorf("Expected override root %s, got %s", override, paths.Root)
	}
	if paths.Source != "" {
		t.Errorf("Expected empty source, got %s", paths.Source)
	}
}

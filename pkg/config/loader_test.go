package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_MergesEnvironmentAndSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
db:
  host: localhost
  port: 5432
  password: ${DB_SECRET}
smtp:
  host: smtp.local
`)
	writeFile(t, dir, "production.yaml", `
db:
  host: db.internal
`)
	writeFile(t, dir, "secrets.env", `
# comment
DB_SECRET="s3cret"
`)

	tree, err := LoadConfig("production", dir)
	require.NoError(t, err)

	var out struct {
		DB   DBConfig   `yaml:"db"`
		SMTP SMTPConfig `yaml:"smtp"`
	}
	require.NoError(t, Decode(tree, &out))

	assert.Equal(t, "db.internal", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port)
	assert.Equal(t, "s3cret", out.DB.Password)
	assert.Equal(t, "smtp.local", out.SMTP.Host)
}

func TestLoadConfig_MissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestSubstituteString_LeavesUnknownPlaceholders(t *testing.T) {
	got := substituteString("${KNOWN}-${UNKNOWN}", map[string]string{"KNOWN": "a"})
	assert.Equal(t, "a-${UNKNOWN}", got)
}

func TestOverrideSMTPFromEnv(t *testing.T) {
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_LOG_ONLY", "true")

	cfg := SMTPConfig{Host: "localhost", Port: 25}
	OverrideSMTPFromEnv(&cfg)

	assert.Equal(t, "mail.example.com", cfg.Host)
	assert.Equal(t, 2525, cfg.Port)
	assert.True(t, cfg.LogOnly)
}

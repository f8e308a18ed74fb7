package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ALiFe-Chain/internal/auth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "alife.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ALIFE_JWT_SECRET", "jwt-secret")
	path := writeConfig(t, `{"web3":{"chain_config":"chain.yaml"},"logging":{"audit":{"enabled":true,"path":"logs/audit.log"}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Server.Address != ":8080" || cfg.Server.ReadHeaderTimeout() != 5*time.Second || cfg.Server.ShutdownTimeout() != 10*time.Second {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Storage.Driver != "memory" || cfg.Realtime.Driver != "memory" {
		t.Fatalf("unexpected drivers: %s %s", cfg.Storage.Driver, cfg.Realtime.Driver)
	}
	if cfg.Web3.ChainConfig != filepath.Join(dir, "chain.yaml") || cfg.Web3.CallTimeout() != 30*time.Second {
		t.Fatalf("unexpected web3 config: %+v", cfg.Web3)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs", "audit.log") {
		t.Fatalf("audit path should be resolved against the config dir: %s", cfg.Logging.Audit.Path)
	}
	mint, provision, call, persist := cfg.Launch.LaunchTimeouts()
	if mint != 3*time.Minute || provision != time.Minute || call != 30*time.Second || persist != 15*time.Second {
		t.Fatalf("unexpected launch timeouts: %v %v %v %v", mint, provision, call, persist)
	}
	if cfg.Webhook.LowComputeBelow != 5 || cfg.Webhook.CriticalBelow != 1 {
		t.Fatalf("unexpected tier thresholds: %+v", cfg.Webhook)
	}
	if cfg.Auth.Mode != auth.ModeJWT || cfg.Auth.JWT.Issuer != "alifed" || cfg.Auth.JWT.Secret != "jwt-secret" {
		t.Fatalf("unexpected auth config: %+v", cfg.Auth)
	}
}

func TestLoadSecretsFromEnvironment(t *testing.T) {
	t.Setenv("ALIFE_WEBHOOK_SECRET", "hook")
	t.Setenv("ALIFE_CONWAY_API_KEY", "conway-key")
	t.Setenv("ALIFE_MYSQL_DSN", "user:pass@tcp(db:3306)/alife")
	t.Setenv("ALIFE_LAUNCHER_PRIVATE_KEY", "0xabc")
	t.Setenv("ALIFE_TREASURY_PRIVATE_KEY", "0xdef")
	t.Setenv("ALIFE_JWT_SECRET", "jwt")
	t.Setenv("ALIFE_SMTP_PASSWORD", "smtp")
	t.Setenv("ALIFE_OTEL_ENDPOINT", "http://collector:4318")

	path := writeConfig(t, `{
		"storage": {"driver": "mysql", "mysql": {"dsn": "ignored"}},
		"webhook": {"secret": "from-json"},
		"conway": {"api_key": "from-json"}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Webhook.Secret != "hook" || cfg.Conway.APIKey != "conway-key" {
		t.Fatalf("secrets must come from the environment: %q %q", cfg.Webhook.Secret, cfg.Conway.APIKey)
	}
	if cfg.Storage.MySQL.DSN != "user:pass@tcp(db:3306)/alife" {
		t.Fatalf("dsn override missing: %q", cfg.Storage.MySQL.DSN)
	}
	if cfg.Web3.LauncherPrivateKey != "0xabc" || cfg.Web3.TreasuryPrivateKey != "0xdef" {
		t.Fatalf("private keys missing: %+v", cfg.Web3)
	}
	if cfg.Alerting.Email.SMTP.Password != "smtp" || cfg.Tracing.Endpoint != "http://collector:4318" {
		t.Fatalf("unexpected overrides: %+v %+v", cfg.Alerting.Email.SMTP, cfg.Tracing)
	}
}

func TestSecretsAreNotReadFromJSON(t *testing.T) {
	t.Setenv("ALIFE_JWT_SECRET", "jwt")
	t.Setenv("ALIFE_WEBHOOK_SECRET", "")
	t.Setenv("ALIFE_LAUNCHER_PRIVATE_KEY", "")
	path := writeConfig(t, `{"webhook":{"Secret":"leak"},"web3":{"LauncherPrivateKey":"0xleak"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Webhook.Secret != "" || cfg.Web3.LauncherPrivateKey != "" {
		t.Fatalf("secrets leaked from json: %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("ALIFE_JWT_SECRET", "jwt")
	cases := map[string]string{
		"unknown storage":  `{"storage":{"driver":"postgres"}}`,
		"mysql no dsn":     `{"storage":{"driver":"mysql"}}`,
		"unknown realtime": `{"realtime":{"driver":"kafka"}}`,
		"redis no address": `{"realtime":{"driver":"redis"}}`,
		"rabbit no url":    `{"realtime":{"driver":"rabbitmq"}}`,
		"tier order":       `{"webhook":{"low_compute_below":1,"critical_below":5}}`,
		"broken json":      `{"server":`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("ALIFE_JWT_SECRET", "")
	_, err := Load(writeConfig(t, `{}`))
	if err == nil || !strings.Contains(err.Error(), "ALIFE_JWT_SECRET") {
		t.Fatalf("expected jwt secret error, got %v", err)
	}
	if _, err := Load(writeConfig(t, `{"auth":{"mode":"disabled"}}`)); err != nil {
		t.Fatalf("disabled auth should not need a secret: %v", err)
	}
}

func TestPath(t *testing.T) {
	t.Setenv("ALIFE_CONFIG", "")
	if Path() != DefaultPath {
		t.Fatalf("unexpected default path %q", Path())
	}
	t.Setenv("ALIFE_CONFIG", "/etc/alife.json")
	if Path() != "/etc/alife.json" {
		t.Fatalf("unexpected path %q", Path())
	}
	if _, err := Load(""); err == nil {
		t.Fatal("empty path should fail")
	}
}

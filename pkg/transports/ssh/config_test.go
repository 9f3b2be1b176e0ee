package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

// writeKey stores a fresh ed25519 key in OpenSSH format, encrypted when
// passphrase is set.
func writeKey(t *testing.T, passphrase string) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "weave test")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "weave test", []byte(passphrase))
	}
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("db1.internal", "ops")

	if cfg.Port != DefaultPort || cfg.DialTimeout != DefaultDialTimeout || cfg.CommandTimeout != DefaultCommandTimeout {
		t.Errorf("defaults = %d %v %v", cfg.Port, cfg.DialTimeout, cfg.CommandTimeout)
	}
	if cfg.DialAttempts != DefaultDialAttempts {
		t.Errorf("DialAttempts = %d", cfg.DialAttempts)
	}
	if filepath.Base(cfg.KeyFile) != "id_ed25519" {
		t.Errorf("KeyFile = %q", cfg.KeyFile)
	}
	if filepath.Base(cfg.KnownHosts) != "known_hosts" {
		t.Errorf("KnownHosts = %q", cfg.KnownHosts)
	}
	if got, want := cfg.URL(), "ssh://ops@db1.internal:22"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestConfigAddress(t *testing.T) {
	tests := []struct {
		host string
		port int
		want string
	}{
		{"web1", 22, "web1:22"},
		{"10.0.0.7", 2222, "10.0.0.7:2222"},
		{"::1", 22, "[::1]:22"},
	}
	for _, tt := range tests {
		cfg := NewConfig(tt.host, "ops")
		cfg.Port = tt.port
		if got := cfg.Address(); got != tt.want {
			t.Errorf("Address(%s, %d) = %q, want %q", tt.host, tt.port, got, tt.want)
		}
	}
}

func TestConfigMethod(t *testing.T) {
	key := writeKey(t, "")

	tests := []struct {
		name    string
		auth    AuthMethod
		keyFile string
		sock    string
		want    AuthMethod
	}{
		{name: "explicit wins", auth: AuthPassword, keyFile: key, sock: "/tmp/agent.sock", want: AuthPassword},
		{name: "auto prefers existing key", keyFile: key, sock: "/tmp/agent.sock", want: AuthKey},
		{name: "auto falls back to agent", keyFile: "/nonexistent/id_ed25519", sock: "/tmp/agent.sock", want: AuthAgent},
		{name: "auto without agent", keyFile: "/nonexistent/id_ed25519", want: AuthKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SSH_AUTH_SOCK", tt.sock)
			cfg := NewConfig("web1", "ops")
			cfg.Auth = tt.auth
			cfg.KeyFile = tt.keyFile
			if got := cfg.Method(); got != tt.want {
				t.Errorf("Method() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	key := writeKey(t, "")

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr []string
	}{
		{
			name:   "key auth",
			modify: func(c *Config) { c.Auth = AuthKey; c.KeyFile = key },
		},
		{
			name:   "password auth",
			modify: func(c *Config) { c.Auth = AuthPassword; c.Password = "s3cret" },
		},
		{
			name:   "agent auth",
			modify: func(c *Config) { c.Auth = AuthAgent; c.AgentSocket = "/run/agent.sock" },
		},
		{
			name: "several problems at once",
			modify: func(c *Config) {
				c.Host = ""
				c.User = ""
				c.Port = 70000
				c.Auth = AuthPassword
			},
			wantErr: []string{"host is required", "user is required", "invalid port 70000", "needs a password"},
		},
		{
			name:    "missing key file",
			modify:  func(c *Config) { c.Auth = AuthKey; c.KeyFile = "/nonexistent/id_rsa" },
			wantErr: []string{"key file"},
		},
		{
			name:    "agent without socket",
			modify:  func(c *Config) { c.Auth = AuthAgent },
			wantErr: []string{"SSH_AUTH_SOCK"},
		},
		{
			name:    "zero timeouts",
			modify:  func(c *Config) { c.Auth = AuthKey; c.KeyFile = key; c.DialTimeout = 0; c.CommandTimeout = 0 },
			wantErr: []string{"dial timeout", "command timeout"},
		},
		{
			name:    "unknown method",
			modify:  func(c *Config) { c.Auth = "gssapi" },
			wantErr: []string{`unsupported auth method "gssapi"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SSH_AUTH_SOCK", "")
			cfg := NewConfig("web1", "ops")
			tt.modify(cfg)

			err := cfg.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() = nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestConfigClientConfig(t *testing.T) {
	t.Run("plain key", func(t *testing.T) {
		cfg := NewConfig("web1", "ops")
		cfg.Auth = AuthKey
		cfg.KeyFile = writeKey(t, "")
		cfg.KnownHosts = ""

		cc, closer, err := cfg.clientConfig()
		if err != nil {
			t.Fatalf("clientConfig: %v", err)
		}
		if closer != nil {
			t.Error("key auth returned a closer")
		}
		if cc.User != "ops" || len(cc.Auth) != 1 || cc.Timeout != DefaultDialTimeout {
			t.Errorf("config = user %q, %d auth methods, timeout %v", cc.User, len(cc.Auth), cc.Timeout)
		}
	})

	t.Run("encrypted key", func(t *testing.T) {
		cfg := NewConfig("web1", "ops")
		cfg.Auth = AuthKey
		cfg.KeyFile = writeKey(t, "correct horse")
		cfg.KnownHosts = ""

		if _, _, err := cfg.clientConfig(); err == nil || !strings.Contains(err.Error(), "encrypted") {
			t.Errorf("without passphrase: err = %v", err)
		}

		cfg.KeyPassphrase = "wrong"
		if _, _, err := cfg.clientConfig(); err == nil {
			t.Error("wrong passphrase accepted")
		}

		cfg.KeyPassphrase = "correct horse"
		if _, _, err := cfg.clientConfig(); err != nil {
			t.Errorf("right passphrase: %v", err)
		}
	})

	t.Run("password offers keyboard-interactive", func(t *testing.T) {
		cfg := NewConfig("web1", "ops")
		cfg.Auth = AuthPassword
		cfg.Password = "s3cret"
		cfg.KnownHosts = ""

		cc, _, err := cfg.clientConfig()
		if err != nil {
			t.Fatalf("clientConfig: %v", err)
		}
		if len(cc.Auth) != 2 {
			t.Errorf("%d auth methods, want 2", len(cc.Auth))
		}
	})

	t.Run("missing known_hosts", func(t *testing.T) {
		cfg := NewConfig("web1", "ops")
		cfg.Auth = AuthPassword
		cfg.Password = "s3cret"
		cfg.KnownHosts = filepath.Join(t.TempDir(), "absent")

		if _, _, err := cfg.clientConfig(); err == nil || !strings.Contains(err.Error(), "known hosts") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("agent socket unreachable", func(t *testing.T) {
		cfg := NewConfig("web1", "ops")
		cfg.Auth = AuthAgent
		cfg.AgentSocket = filepath.Join(t.TempDir(), "agent.sock")

		if _, _, err := cfg.clientConfig(); err == nil || !strings.Contains(err.Error(), "ssh-agent") {
			t.Errorf("err = %v", err)
		}
	})
}

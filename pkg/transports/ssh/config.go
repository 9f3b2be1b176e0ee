package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	// AuthAuto uses KeyFile when it exists and the agent otherwise.
	AuthAuto AuthMethod = ""

	// AuthKey signs with the private key in KeyFile.
	AuthKey AuthMethod = "key"

	// AuthAgent signs with the keys held by ssh-agent.
	AuthAgent AuthMethod = "agent"

	// AuthPassword sends Password, also answering keyboard-interactive
	// prompts with it.
	AuthPassword AuthMethod = "password"
)

const (
	DefaultPort           = 22
	DefaultDialTimeout    = 15 * time.Second
	DefaultCommandTimeout = 5 * time.Minute
	DefaultDialAttempts   = 3
)

// Config describes one SSH target and how to log in to it.
type Config struct {
	Host string
	Port int
	User string

	Auth          AuthMethod
	KeyFile       string
	KeyPassphrase string
	Password      string

	// AgentSocket is the ssh-agent socket. Defaults to $SSH_AUTH_SOCK.
	AgentSocket string

	// KnownHosts is checked against the server's host key. Empty disables
	// host key checking.
	KnownHosts string

	// DialTimeout bounds the TCP connect and the SSH handshake.
	DialTimeout time.Duration

	// CommandTimeout bounds a command whose context has no deadline.
	CommandTimeout time.Duration

	// DialAttempts is how many times a failed connect is tried. Auth and
	// host key failures are never retried.
	DialAttempts uint
}

// NewConfig returns the settings weave uses for user@host: port 22, the
// user's ~/.ssh/id_ed25519 and ~/.ssh/known_hosts.
func NewConfig(host, user string) *Config {
	return &Config{
		Host:           host,
		Port:           DefaultPort,
		User:           user,
		KeyFile:        filepath.Join(xdg.Home, ".ssh", "id_ed25519"),
		KnownHosts:     filepath.Join(xdg.Home, ".ssh", "known_hosts"),
		DialTimeout:    DefaultDialTimeout,
		CommandTimeout: DefaultCommandTimeout,
		DialAttempts:   DefaultDialAttempts,
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, errors.New("dial timeout must be positive"))
	}
	if c.CommandTimeout <= 0 {
		errs = append(errs, errors.New("command timeout must be positive"))
	}

	switch method := c.Method(); method {
	case AuthKey:
		if c.KeyFile == "" {
			errs = append(errs, errors.New("key auth needs a key file"))
		} else if _, err := os.Stat(c.KeyFile); err != nil {
			errs = append(errs, fmt.Errorf("key file: %w", err))
		}
	case AuthAgent:
		if c.agentSocket() == "" {
			errs = append(errs, errors.New("agent auth needs SSH_AUTH_SOCK"))
		}
	case AuthPassword:
		if c.Password == "" {
			errs = append(errs, errors.New("password auth needs a password"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method %q", method))
	}
	return errors.Join(errs...)
}

// Method resolves AuthAuto to the method that will be used.
func (c *Config) Method() AuthMethod {
	if c.Auth != AuthAuto {
		return c.Auth
	}
	if c.KeyFile != "" {
		if _, err := os.Stat(c.KeyFile); err == nil {
			return AuthKey
		}
	}
	if c.agentSocket() != "" {
		return AuthAgent
	}
	return AuthKey
}

func (c *Config) agentSocket() string {
	if c.AgentSocket != "" {
		return c.AgentSocket
	}
	return os.Getenv("SSH_AUTH_SOCK")
}

// clientConfig builds the handshake configuration. The returned closer,
// when not nil, holds the agent connection and must be closed once the
// handshake is done.
func (c *Config) clientConfig() (*ssh.ClientConfig, io.Closer, error) {
	var (
		auth   []ssh.AuthMethod
		closer io.Closer
	)

	switch method := c.Method(); method {
	case AuthKey:
		signer, err := c.signer()
		if err != nil {
			return nil, nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))

	case AuthAgent:
		conn, err := net.Dial("unix", c.agentSocket())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to ssh-agent: %w", err)
		}
		closer = conn
		auth = append(auth, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))

	case AuthPassword:
		password := c.Password
		auth = append(auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)

	default:
		return nil, nil, fmt.Errorf("unsupported auth method %q", method)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.KnownHosts != "" {
		cb, err := knownhosts.New(c.KnownHosts)
		if err != nil {
			if closer != nil {
				_ = closer.Close()
			}
			return nil, nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.DialTimeout,
	}, closer, nil
}

func (c *Config) signer() (ssh.Signer, error) {
	pem, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	if c.KeyPassphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", c.KeyFile, err)
		}
		return signer, nil
	}

	signer, err := ssh.ParsePrivateKey(pem)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("key %s is encrypted: use ssh-agent or set a passphrase", c.KeyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", c.KeyFile, err)
	}
	return signer, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the target as ssh://user@host:port.
func (c *Config) URL() string {
	u := url.URL{Scheme: "ssh", User: url.User(c.User), Host: c.Address()}
	return u.String()
}

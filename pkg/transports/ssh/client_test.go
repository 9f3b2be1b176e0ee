package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// fakeServer accepts user "deploy" with password "hunter2", answers a few
// canned commands and serves SFTP against the local filesystem.
type fakeServer struct {
	ln   net.Listener
	cfg  *ssh.ServerConfig
	stop chan struct{}
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(md ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if md.User() == "deploy" && string(pass) == "hunter2" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &fakeServer{ln: ln, cfg: cfg, stop: make(chan struct{})}
	go s.accept()
	t.Cleanup(func() {
		close(s.stop)
		_ = ln.Close()
	})
	return s
}

func (s *fakeServer) config(t *testing.T, password string) *Config {
	t.Helper()
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)

	cfg := NewConfig(host, "deploy")
	cfg.Port = p
	cfg.Auth = AuthPassword
	cfg.Password = password
	cfg.KnownHosts = ""
	cfg.DialTimeout = 5 * time.Second
	cfg.DialAttempts = 1
	return cfg
}

func (s *fakeServer) accept() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *fakeServer) serveConn(nc net.Conn) {
	defer nc.Close()

	conn, chans, reqs, err := ssh.NewServerConn(nc, s.cfg)
	if err != nil {
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			_ = nch.Reject(ssh.UnknownChannelType, nch.ChannelType())
			continue
		}
		ch, chReqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, chReqs)
	}
}

func (s *fakeServer) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			srv, err := sftp.NewServer(ch)
			if err != nil {
				return
			}
			_ = srv.Serve()
			return

		case "exec":
			_ = req.Reply(true, nil)
			s.exec(ch, string(req.Payload[4:]))
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *fakeServer) exec(ch ssh.Channel, cmd string) {
	status := uint32(0)
	switch cmd {
	case "crontab -l":
		_, _ = io.WriteString(ch, "0 3 * * * /usr/local/bin/backup\n")
	case "crontab -l -u nobody":
		_, _ = io.WriteString(ch.Stderr(), "no crontab for nobody\n")
		status = 1
	case "crontab -":
		data, _ := io.ReadAll(ch)
		_, _ = ch.Write(data)
	case "hang":
		select {
		case <-s.stop:
		case <-time.After(10 * time.Second):
		}
		return
	default:
		_, _ = io.WriteString(ch.Stderr(), cmd+": not found\n")
		status = 127
	}

	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, status)
	_, _ = ch.SendRequest("exit-status", false, payload)
}

func connect(t *testing.T, cfg *Config) *Client {
	t.Helper()
	c, err := NewClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestClientLifecycle(t *testing.T) {
	srv := startFakeServer(t)
	c := connect(t, srv.config(t, "hunter2"))

	if !c.IsConnected() {
		t.Fatal("IsConnected = false after Connect")
	}
	if c.User() != "deploy" {
		t.Errorf("User = %q", c.User())
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Errorf("second Connect: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Errorf("second Disconnect: %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected = true after Disconnect")
	}

	_, err := c.Run(context.Background(), "crontab -l", nil)
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, errNotConnected) {
		t.Errorf("Run after Disconnect: err = %v", err)
	}
}

func TestClientRun(t *testing.T) {
	srv := startFakeServer(t)
	c := connect(t, srv.config(t, "hunter2"))

	tests := []struct {
		name       string
		cmd        string
		stdin      []byte
		wantStdout string
		wantStderr string
		wantExit   int
	}{
		{
			name:       "list table",
			cmd:        "crontab -l",
			wantStdout: "0 3 * * * /usr/local/bin/backup\n",
		},
		{
			name:       "missing table",
			cmd:        "crontab -l -u nobody",
			wantStderr: "no crontab for nobody\n",
			wantExit:   1,
		},
		{
			name:       "install from stdin",
			cmd:        "crontab -",
			stdin:      []byte("*/5 * * * * /opt/sync\n"),
			wantStdout: "*/5 * * * * /opt/sync\n",
		},
		{
			name:       "unknown command",
			cmd:        "frobnicate",
			wantStderr: "frobnicate: not found\n",
			wantExit:   127,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Run(context.Background(), tt.cmd, tt.stdin)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Stdout != tt.wantStdout {
				t.Errorf("stdout = %q, want %q", res.Stdout, tt.wantStdout)
			}
			if res.Stderr != tt.wantStderr {
				t.Errorf("stderr = %q, want %q", res.Stderr, tt.wantStderr)
			}
			if res.ExitCode != tt.wantExit {
				t.Errorf("exit = %d, want %d", res.ExitCode, tt.wantExit)
			}
		})
	}
}

func TestClientRunCancelled(t *testing.T) {
	srv := startFakeServer(t)
	c := connect(t, srv.config(t, "hunter2"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Run(ctx, "hang", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run returned after %v", elapsed)
	}
	var te *TransportError
	if errors.As(err, &te) && te.Temporary() {
		t.Error("cancelled command reported as temporary")
	}
}

func TestClientConnectRejected(t *testing.T) {
	srv := startFakeServer(t)

	t.Run("wrong password", func(t *testing.T) {
		cfg := srv.config(t, "letmein")
		cfg.DialAttempts = 3

		c, err := NewClient(cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		err = c.Connect(context.Background())

		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("err = %v, want *TransportError", err)
		}
		if !te.Auth || te.Temporary() {
			t.Errorf("Auth = %v, Temporary = %v", te.Auth, te.Temporary())
		}
		if c.IsConnected() {
			t.Error("connected after rejection")
		}
	})

	t.Run("unknown host key", func(t *testing.T) {
		cfg := srv.config(t, "hunter2")

		other, _, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatal(err)
		}
		pub, err := ssh.NewPublicKey(other)
		if err != nil {
			t.Fatal(err)
		}
		cfg.KnownHosts = filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{knownhosts.Normalize(cfg.Address())}, pub) + "\n"
		if err := os.WriteFile(cfg.KnownHosts, []byte(line), 0o600); err != nil {
			t.Fatal(err)
		}

		c, err := NewClient(cfg, zerolog.Nop())
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		err = c.Connect(context.Background())

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			t.Fatalf("err = %v, want *knownhosts.KeyError", err)
		}
		var te *TransportError
		if !errors.As(err, &te) || !te.Auth {
			t.Errorf("err = %#v, want auth TransportError", err)
		}
	})
}

func TestClientWriteFile(t *testing.T) {
	srv := startFakeServer(t)
	c := connect(t, srv.config(t, "hunter2"))

	target := filepath.Join(t.TempDir(), "etc", "cron.d", "weave-backup")
	data := []byte("0 3 * * * root /usr/local/bin/backup\n")

	if err := c.WriteFile(context.Background(), target, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("content = %q, want %q", got, data)
	}
	info, err := os.Stat(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}

	// A second write truncates.
	if err := c.WriteFile(context.Background(), target, []byte("x\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, _ = os.ReadFile(target)
	if string(got) != "x\n" {
		t.Errorf("after rewrite = %q", got)
	}
}

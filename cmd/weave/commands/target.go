package commands

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hostweave/hostweave/pkg/engine"
)

// target is a parsed scope host.
type target struct {
	User string
	Host string
	Port int
}

// parseTarget parses [ssh://][user@]host[:port]. Port is 0 when absent.
func parseTarget(s string) (target, error) {
	raw := strings.TrimSpace(s)
	if !strings.Contains(raw, "://") {
		raw = "ssh://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return target{}, invalidTarget(s, err)
	}
	if u.Scheme != "ssh" {
		return target{}, invalidTarget(s, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Hostname() == "" || (u.Path != "" && u.Path != "/") {
		return target{}, invalidTarget(s, nil)
	}

	t := target{Host: u.Hostname()}
	if u.User != nil {
		t.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return target{}, invalidTarget(s, fmt.Errorf("invalid port %q", p))
		}
		t.Port = port
	}
	return t, nil
}

func invalidTarget(s string, err error) error {
	return engine.NewValidationError(fmt.Sprintf("invalid scope host %q", s), err).
		WithDetail("host", s)
}

package contexts

import (
	"context"
	"fmt"
	"strings"

	"github.com/hostweave/hostweave/pkg/host"
)

// HostProvider reports the target's hostname, kernel name and machine
// architecture as host.hostname, host.os and host.arch.
type HostProvider struct {
	exec host.Executor
}

// NewHostProvider queries the target through exec, so remote scopes report
// the remote machine.
func NewHostProvider(exec host.Executor) *HostProvider {
	return &HostProvider{exec: exec}
}

// Prefix implements Provider.
func (p *HostProvider) Prefix() string {
	return "host"
}

// Contexts implements Provider.
func (p *HostProvider) Contexts(ctx context.Context) ([]Context, error) {
	res, err := p.exec.Run(ctx, host.Command{Name: "uname", Args: []string{"-snm"}})
	if err != nil {
		return nil, fmt.Errorf("host facts from %s: %w", p.exec.Name(), err)
	}

	// uname prints sysname, nodename, machine in that order.
	fields := strings.Fields(res.Stdout)
	if len(fields) != 3 {
		return nil, fmt.Errorf("host facts from %s: unexpected uname output %q", p.exec.Name(), res.Stdout)
	}

	return []Context{
		KeyValue("hostname", fields[1]),
		KeyValue("os", strings.ToLower(fields[0])),
		KeyValue("arch", fields[2]),
	}, nil
}

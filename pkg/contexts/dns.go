package contexts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/miekg/dns"
	"github.com/rs/zerolog"
)

const (
	// DefaultDNSTimeout bounds a single TXT query attempt.
	DefaultDNSTimeout = 5 * time.Second

	// DefaultDNSRetries is the number of retries after the first attempt.
	DefaultDNSRetries = 1

	resolvConf = "/etc/resolv.conf"
)

// DNSOptions configures a DNSProvider.
type DNSOptions struct {
	// Prefix is the namespace for the facts. Defaults to "dns".
	Prefix string

	// Host is the name whose TXT records hold the facts. A URL is accepted;
	// only its host part is used.
	Host string

	// Nameserver is "host[:port]". Defaults to the first resolver in
	// /etc/resolv.conf.
	Nameserver string

	// Timeout bounds each attempt.
	Timeout time.Duration

	// Retries is the number of extra attempts after a failure. Negative
	// values disable retrying.
	Retries int

	Logger zerolog.Logger
}

// DNSProvider turns "key=value" TXT records into facts.
type DNSProvider struct {
	prefix     string
	name       string
	nameserver string
	timeout    time.Duration
	retries    int
	client     *dns.Client
	tcp        *dns.Client
	logger     zerolog.Logger
}

// NewDNSProvider validates opts and creates a provider.
func NewDNSProvider(opts DNSOptions) (*DNSProvider, error) {
	name, err := queryName(opts.Host)
	if err != nil {
		return nil, err
	}

	if opts.Prefix == "" {
		opts.Prefix = "dns"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDNSTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	nameserver := opts.Nameserver
	if nameserver == "" {
		cfg, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("no nameserver configured: %w", err)
		}
		if len(cfg.Servers) == 0 {
			return nil, fmt.Errorf("no nameserver configured and none found in %s", resolvConf)
		}
		nameserver = net.JoinHostPort(cfg.Servers[0], cfg.Port)
	} else if _, _, err := net.SplitHostPort(nameserver); err != nil {
		nameserver = net.JoinHostPort(nameserver, "53")
	}

	return &DNSProvider{
		prefix:     opts.Prefix,
		name:       name,
		nameserver: nameserver,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		client:     &dns.Client{Net: "udp", Timeout: opts.Timeout},
		tcp:        &dns.Client{Net: "tcp", Timeout: opts.Timeout},
		logger:     opts.Logger.With().Str("provider", opts.Prefix).Logger(),
	}, nil
}

// queryName extracts a fully qualified DNS name from a URL or bare host.
func queryName(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("dns provider requires a host")
	}
	if strings.Contains(host, "://") {
		u, err := url.Parse(host)
		if err != nil {
			return "", fmt.Errorf("invalid dns host %q: %w", host, err)
		}
		host = u.Hostname()
	}
	if _, ok := dns.IsDomainName(host); !ok || host == "" {
		return "", fmt.Errorf("invalid dns host %q", host)
	}
	return dns.Fqdn(host), nil
}

// Prefix implements Provider.
func (p *DNSProvider) Prefix() string {
	return p.prefix
}

// Contexts implements Provider. It blocks until the lookup succeeds or the
// retry budget is spent.
func (p *DNSProvider) Contexts(ctx context.Context) ([]Context, error) {
	records, err := p.lookupTXT(ctx)
	if err != nil {
		return nil, err
	}
	return parseKeyValues(records, p.logger), nil
}

func (p *DNSProvider) lookupTXT(ctx context.Context) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(p.name, dns.TypeTXT)
	msg.RecursionDesired = true

	attempt := 0
	operation := func() ([]string, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		resp, _, err := p.client.ExchangeContext(attemptCtx, msg, p.nameserver)
		if err == nil && resp.Truncated {
			p.logger.Debug().Str("name", p.name).Msg("UDP answer truncated, retrying over TCP")
			resp, _, err = p.tcp.ExchangeContext(attemptCtx, msg, p.nameserver)
		}
		if err != nil {
			return nil, fmt.Errorf("query %s TXT via %s: %w", p.name, p.nameserver, err)
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, backoff.Permanent(fmt.Errorf("query %s TXT: %s", p.name, dns.RcodeToString[resp.Rcode]))
		default:
			return nil, fmt.Errorf("query %s TXT: %s", p.name, dns.RcodeToString[resp.Rcode])
		}

		var out []string
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				out = append(out, strings.Join(txt.Txt, ""))
			}
		}
		return out, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond

	records, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("DNS lookup failed, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// parseKeyValues splits records on the first '='. Records without one are
// skipped; for repeated keys the lexically first record wins.
func parseKeyValues(records []string, logger zerolog.Logger) []Context {
	sorted := append([]string(nil), records...)
	sort.Strings(sorted)

	seen := make(map[string]struct{}, len(sorted))
	facts := make([]Context, 0, len(sorted))
	for _, record := range sorted {
		key, value, ok := strings.Cut(record, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			logger.Debug().Str("record", record).Msg("Skipping record without key=value")
			continue
		}
		if _, dup := seen[key]; dup {
			logger.Debug().Str("key", key).Msg("Skipping duplicate key")
			continue
		}
		seen[key] = struct{}{}
		facts = append(facts, KeyValue(key, value))
	}
	return facts
}

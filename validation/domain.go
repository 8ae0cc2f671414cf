package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miekg/dns"
)

// DomainChecker reports whether an email domain can receive mail.
type DomainChecker interface {
	CheckDomain(ctx context.Context, domain string) error
}

// NopDomainChecker accepts every domain.
type NopDomainChecker struct{}

func (NopDomainChecker) CheckDomain(context.Context, string) error { return nil }

// MXChecker resolves MX records, falling back to A records as mail
// delivery does, against a fixed resolver.
type MXChecker struct {
	resolver string
	client   *dns.Client
	log      *slog.Logger
}

// NewMXChecker creates a checker querying resolver (host:port) over UDP.
func NewMXChecker(resolver string, timeout time.Duration, log *slog.Logger) *MXChecker {
	return &MXChecker{
		resolver: resolver,
		client:   &dns.Client{Net: "udp", Timeout: timeout},
		log:      log,
	}
}

// CheckDomain returns ErrUnknownDomain when the domain has neither MX nor A
// records. Resolver failures are returned as-is so callers can tell an
// unreachable resolver from a bad address.
func (c *MXChecker) CheckDomain(ctx context.Context, domain string) error {
	for _, qtype := range []uint16{dns.TypeMX, dns.TypeA} {
		found, err := c.lookup(ctx, domain, qtype)
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}

	c.log.Debug("Email domain has no mail records", "domain", domain)
	return ErrUnknownDomain
}

func (c *MXChecker) lookup(ctx context.Context, domain string, qtype uint16) (bool, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	in, _, err := c.client.ExchangeContext(ctx, m, c.resolver)
	if err != nil {
		return false, fmt.Errorf("dns query for %s failed: %w", domain, err)
	}

	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return false, nil
	default:
		return false, fmt.Errorf("dns query for %s failed: %s", domain, dns.RcodeToString[in.Rcode])
	}

	for _, answer := range in.Answer {
		switch answer.(type) {
		case *dns.MX, *dns.A:
			if answer.Header().Rrtype == qtype {
				return true, nil
			}
		}
	}
	return false, nil
}

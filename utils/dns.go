package utils

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/likexian/whois"
	"github.com/sirupsen/logrus"
)

// dkimSelectors are the selectors probed when looking for a DKIM record.
var dkimSelectors = []string{"default", "dkim", "mail", "email", "selector1", "selector2"}

// DNSResolver is the subset of net.Resolver the checker needs.
type DNSResolver interface {
	LookupMX(ctx context.Context, domain string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSReport summarizes the deliverability posture of a sending domain.
type DNSReport struct {
	Domain    string    `json:"domain"`
	HasMX     bool      `json:"hasMx"`
	HasSPF    bool      `json:"hasSpf"`
	HasDKIM   bool      `json:"hasDkim"`
	DKIMKey   string    `json:"dkimSelector,omitempty"`
	HasDMARC  bool      `json:"hasDmarc"`
	Registrar string    `json:"registrar,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Valid reports whether the domain can be warmed up at all. MX is the
// hard requirement; SPF/DKIM/DMARC are surfaced for the operator.
func (r *DNSReport) Valid() bool {
	return r.HasMX
}

// DNSChecker validates sending domains before warmup is allowed to run.
type DNSChecker struct {
	resolver DNSResolver
	whoisFn  func(domain string) (string, error)
	logger   *logrus.Entry
}

func NewDNSChecker(logger *logrus.Logger) *DNSChecker {
	return &DNSChecker{
		resolver: net.DefaultResolver,
		whoisFn:  func(domain string) (string, error) { return whois.Whois(domain) },
		logger:   logger.WithField("component", "dns"),
	}
}

// CheckDomain probes MX, SPF, DKIM and DMARC records plus the whois
// registrar for the given domain.
func (c *DNSChecker) CheckDomain(ctx context.Context, domain string) (*DNSReport, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrConfiguration)
	}
	report := &DNSReport{Domain: domain, CheckedAt: time.Now()}

	mx, err := c.resolver.LookupMX(ctx, domain)
	if err == nil && len(mx) > 0 {
		report.HasMX = true
	}

	if txts, err := c.resolver.LookupTXT(ctx, domain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(txt, "v=spf1") {
				report.HasSPF = true
				break
			}
		}
	}

	for _, selector := range dkimSelectors {
		name := selector + "._domainkey." + domain
		if txts, err := c.resolver.LookupTXT(ctx, name); err == nil && len(txts) > 0 {
			report.HasDKIM = true
			report.DKIMKey = selector
			break
		}
	}

	if txts, err := c.resolver.LookupTXT(ctx, "_dmarc."+domain); err == nil {
		for _, txt := range txts {
			if strings.HasPrefix(txt, "v=DMARC1") {
				report.HasDMARC = true
				break
			}
		}
	}

	// Whois is best effort; failures only cost the registrar field.
	if raw, err := c.whoisFn(domain); err == nil {
		report.Registrar = parseRegistrar(raw)
	} else {
		c.logger.WithField("domain", domain).WithError(err).Debug("whois lookup failed")
	}

	return report, nil
}

func parseRegistrar(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "registrar:") {
			return strings.TrimSpace(trimmed[len("registrar:"):])
		}
	}
	return ""
}

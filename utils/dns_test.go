package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDomainFullPosture(t *testing.T) {
	checker := NewDNSChecker(newTestLogger())
	checker.resolver = fakeResolver{
		mx: true,
		txt: map[string][]string{
			"ours.com":                    {"v=spf1 include:_spf.ours.com ~all"},
			"selector1._domainkey.ours.com": {"v=DKIM1; k=rsa; p=MIGf..."},
			"_dmarc.ours.com":             {"v=DMARC1; p=quarantine"},
		},
	}
	checker.whoisFn = func(string) (string, error) {
		return "Domain Name: OURS.COM\nRegistrar: Example Registrar, Inc.\n", nil
	}

	report, err := checker.CheckDomain(context.Background(), "ours.com")
	require.NoError(t, err)

	assert.True(t, report.HasMX)
	assert.True(t, report.HasSPF)
	assert.True(t, report.HasDKIM)
	assert.Equal(t, "selector1", report.DKIMKey)
	assert.True(t, report.HasDMARC)
	assert.Equal(t, "Example Registrar, Inc.", report.Registrar)
	assert.True(t, report.Valid())
}

func TestCheckDomainWithoutMXIsInvalid(t *testing.T) {
	checker := NewDNSChecker(newTestLogger())
	checker.resolver = fakeResolver{mx: false}
	checker.whoisFn = func(string) (string, error) { return "", errors.New("offline") }

	report, err := checker.CheckDomain(context.Background(), "dead.example")
	require.NoError(t, err)
	assert.False(t, report.HasMX)
	assert.False(t, report.Valid())
}

func TestCheckDomainWhoisIsBestEffort(t *testing.T) {
	checker := NewDNSChecker(newTestLogger())
	checker.resolver = fakeResolver{mx: true}
	checker.whoisFn = func(string) (string, error) { return "", errors.New("rate limited") }

	report, err := checker.CheckDomain(context.Background(), "ours.com")
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Registrar)
}

func TestCheckDomainRejectsEmpty(t *testing.T) {
	checker := NewDNSChecker(newTestLogger())
	_, err := checker.CheckDomain(context.Background(), "")
	assert.ErrorIs(t, err, ErrConfiguration)
}

package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldmail/models"
)

func validAccount() *models.EmailAccount {
	return &models.EmailAccount{
		Email:        "ops@ours.com",
		Provider:     "smtp",
		SMTPHost:     "smtp.ours.com",
		SMTPPort:     587,
		SMTPUsername: "ops@ours.com",
		SMTPPassword: "encrypted-blob",
	}
}

func TestValidateAccountConfigAccepts(t *testing.T) {
	require.NoError(t, ValidateAccountConfig(validAccount()))
}

func TestValidateAccountConfigRejections(t *testing.T) {
	cases := map[string]func(a *models.EmailAccount){
		"bad email":           func(a *models.EmailAccount) { a.Email = "not-an-address" },
		"missing smtp host":   func(a *models.EmailAccount) { a.SMTPHost = "" },
		"port out of range":   func(a *models.EmailAccount) { a.SMTPPort = 70000 },
		"missing credentials": func(a *models.EmailAccount) { a.SMTPPassword = "" },
		"unknown provider":    func(a *models.EmailAccount) { a.Provider = "carrier-pigeon" },
		"bad imap encryption": func(a *models.EmailAccount) {
			a.IMAPHost = "imap.ours.com"
			a.IMAPPort = 993
			a.IMAPEncryption = "rot13"
		},
		"inverted warmup range": func(a *models.EmailAccount) {
			a.WarmupSettings = models.WarmupSettings{Enabled: true, DailyWarmupEmails: 40, MaxDailyEmails: 5, RampUpDays: 30}
		},
		"zero ramp days": func(a *models.EmailAccount) {
			a.WarmupSettings = models.WarmupSettings{Enabled: true, DailyWarmupEmails: 5, MaxDailyEmails: 40}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			a := validAccount()
			mutate(a)
			err := ValidateAccountConfig(a)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestValidateAccountConfigOAuthNeedsRefreshToken(t *testing.T) {
	a := validAccount()
	a.Provider = "gmail"
	a.SMTPHost = ""
	assert.ErrorIs(t, ValidateAccountConfig(a), ErrConfiguration)

	a.OAuthRefreshToken = "encrypted-token"
	assert.NoError(t, ValidateAccountConfig(a))
}

func TestEmailDomain(t *testing.T) {
	assert.Equal(t, "acme.com", EmailDomain("Jane@ACME.com"))
	assert.Equal(t, "acme.com", EmailDomain("jane@acme.com "))
	assert.Equal(t, "", EmailDomain("no-at-sign"))
}

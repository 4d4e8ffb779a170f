package utils

import (
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/go-playground/validator/v10"

	"coldmail/models"
)

var validate = validator.New()

// ValidateStruct runs validator tags on a request struct.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateAccountConfig checks an account before it is accepted.
// Everything here fails at configuration time so send paths can assume
// a well-formed account.
func ValidateAccountConfig(a *models.EmailAccount) error {
	if err := checkmail.ValidateFormat(a.Email); err != nil {
		return fmt.Errorf("%w: email %q: %v", ErrConfiguration, a.Email, err)
	}
	switch a.Provider {
	case "smtp", "namecheap":
		if a.SMTPHost == "" {
			return fmt.Errorf("%w: smtp host is required", ErrConfiguration)
		}
		if a.SMTPPort <= 0 || a.SMTPPort > 65535 {
			return fmt.Errorf("%w: smtp port %d out of range", ErrConfiguration, a.SMTPPort)
		}
		if a.SMTPUsername == "" || a.SMTPPassword == "" {
			return fmt.Errorf("%w: smtp credentials are required", ErrConfiguration)
		}
	case "gmail", "outlook":
		if a.OAuthRefreshToken == "" {
			return fmt.Errorf("%w: oauth refresh token is required for %s", ErrConfiguration, a.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrConfiguration, a.Provider)
	}
	if a.IMAPHost != "" {
		if a.IMAPPort <= 0 || a.IMAPPort > 65535 {
			return fmt.Errorf("%w: imap port %d out of range", ErrConfiguration, a.IMAPPort)
		}
		switch a.IMAPEncryption {
		case "ssl", "tls", "starttls", "none", "":
		default:
			return fmt.Errorf("%w: unknown imap encryption %q", ErrConfiguration, a.IMAPEncryption)
		}
	}
	if ws := a.WarmupSettings; ws.Enabled {
		if ws.DailyWarmupEmails <= 0 || ws.MaxDailyEmails < ws.DailyWarmupEmails {
			return fmt.Errorf("%w: warmup volume range %d..%d is invalid",
				ErrConfiguration, ws.DailyWarmupEmails, ws.MaxDailyEmails)
		}
		if ws.RampUpDays <= 0 {
			return fmt.Errorf("%w: rampUpDays must be positive", ErrConfiguration)
		}
		if ws.MinReputation < 0 || ws.MinReputation > 100 {
			return fmt.Errorf("%w: minReputation %d out of range", ErrConfiguration, ws.MinReputation)
		}
	}
	return nil
}

// EmailDomain extracts the domain of an address, lowercased.
func EmailDomain(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return strings.ToLower(strings.TrimSpace(email[i+1:]))
	}
	return ""
}

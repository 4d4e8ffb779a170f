package utils

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the failure classes the engine reacts to
// differently. Callers match with errors.Is.
var (
	// ErrAuthentication means the mail server rejected the credentials.
	// Never retried; the account is disabled until reconfigured.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRecipientBlacklisted means the recipient domain is on the
	// deliverability blacklist. The send is skipped, not failed.
	ErrRecipientBlacklisted = errors.New("recipient domain blacklisted")

	// ErrConfiguration means the account setup is invalid. Rejected at
	// configuration time, never at send time.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrSyncInProgress means another sync already holds the account.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// TemplateError reports a template variable that could not be resolved
// for a lead. The lead is excluded from the step; the campaign continues.
type TemplateError struct {
	Variable string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template variable %q could not be resolved", e.Variable)
}

// ParseError reports a message that could not be parsed during inbox
// sync. The message is skipped; the sync continues.
type ParseError struct {
	UID uint32
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse message uid=%d: %v", e.UID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var temporaryIndicators = []string{
	"try again",
	"temporary",
	"timeout",
	"connection reset",
	"4.",
	"421",
	"450",
	"451",
	"452",
}

var authIndicators = []string{
	"535",
	"authentication",
	"invalid credentials",
	"username and password not accepted",
	"invalid_grant",
}

// IsTemporary reports whether a send error is worth retrying.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range temporaryIndicators {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether a send error is a credential rejection.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range authIndicators {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

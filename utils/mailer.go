package utils

import (
	"context"
	"crypto/tls"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"

	"coldmail/models"
)

// OutgoingEmail is one message handed to the send transport. Campaign
// sends, warmup sends and manual replies all pass through here so that
// every sent message lands in EmailLog.
type OutgoingEmail struct {
	To      string
	ToName  string
	Subject string
	Content string // plain text or HTML fragment; wrapped before send

	Type       string // models.LogTypeCampaign / LogTypeWarmup / LogTypeReply
	CampaignID *uint
	LeadID     *uint
	StepNumber int

	InReplyTo  string
	References []string

	WarmupToken string
	TrackOpens  bool
	TrackClicks bool

	Headers map[string]string
}

// Transport performs the actual SMTP submission. Replaceable in tests.
type Transport func(account *models.EmailAccount, password string, msg *gomail.Message) error

// Mailer is the single send path. It enforces the blacklist, retries
// transient failures, disables accounts on auth rejection and records
// every attempt in EmailLog.
type Mailer struct {
	db        *gorm.DB
	guard     *DeliverabilityGuard
	retry     RetryPolicy
	baseURL   string
	transport Transport
	logger    *logrus.Entry
	now       func() time.Time
}

func NewMailer(db *gorm.DB, guard *DeliverabilityGuard, baseURL string, logger *logrus.Logger) *Mailer {
	return &Mailer{
		db:        db,
		guard:     guard,
		retry:     DefaultRetryPolicy(),
		baseURL:   baseURL,
		transport: smtpTransport,
		logger:    logger.WithField("component", "mailer"),
		now:       time.Now,
	}
}

// SetTransport swaps the SMTP submission function (tests).
func (m *Mailer) SetTransport(t Transport) { m.transport = t }

// SetRetryPolicy overrides the default retry behaviour.
func (m *Mailer) SetRetryPolicy(p RetryPolicy) { m.retry = p }

// Send submits one email from the account. Returns the EmailLog row on
// success. A blacklisted recipient returns ErrRecipientBlacklisted and
// writes nothing; the caller logs and moves on.
func (m *Mailer) Send(ctx context.Context, account *models.EmailAccount, email *OutgoingEmail) (*models.EmailLog, error) {
	domain := EmailDomain(email.To)
	if m.guard != nil && m.guard.IsBlacklisted(domain) {
		m.logger.WithFields(logrus.Fields{
			"to":     email.To,
			"domain": domain,
		}).Info("Skipping send to blacklisted domain")
		return nil, ErrRecipientBlacklisted
	}

	password, err := m.credential(ctx, account)
	if err != nil {
		if IsAuthError(err) {
			m.disableAccount(account, err)
		}
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), account.Domain())
	token := ""
	if email.TrackOpens || email.TrackClicks {
		token = NewTrackingToken()
	}

	msg := m.buildMessage(account, email, messageID, token)

	sendErr := m.retry.Do(ctx, func() error {
		return m.transport(account, password, msg)
	})

	entry := &models.EmailLog{
		AccountID:         account.ID,
		CampaignID:        email.CampaignID,
		LeadID:            email.LeadID,
		Type:              email.Type,
		StepNumber:        email.StepNumber,
		ToEmail:           strings.ToLower(email.To),
		Subject:           email.Subject,
		NormalizedSubject: NormalizeSubject(email.Subject),
		MessageID:         messageID,
		TrackingToken:     token,
		SentAt:            m.now(),
	}

	if sendErr != nil {
		entry.Status = models.LogFailed
		entry.ErrorMessage = sendErr.Error()
		if err := m.db.Create(entry).Error; err != nil {
			m.logger.WithError(err).Error("Failed to record failed send")
		}
		if IsAuthError(sendErr) {
			m.disableAccount(account, sendErr)
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, sendErr)
		}
		return nil, sendErr
	}

	entry.Status = models.LogSent
	if err := m.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("send succeeded but logging failed: %w", err)
	}

	updates := map[string]interface{}{
		"emails_sent_today": gorm.Expr("emails_sent_today + 1"),
		"total_sent":        gorm.Expr("total_sent + 1"),
	}
	if err := m.db.Model(&models.EmailAccount{}).Where("id = ?", account.ID).Updates(updates).Error; err != nil {
		m.logger.WithError(err).Warn("Failed to bump account send counters")
	}

	return entry, nil
}

func (m *Mailer) credential(ctx context.Context, account *models.EmailAccount) (string, error) {
	switch account.Provider {
	case "gmail", "outlook":
		return RefreshAccessToken(ctx, account)
	default:
		return Decrypt(account.SMTPPassword)
	}
}

func (m *Mailer) buildMessage(account *models.EmailAccount, email *OutgoingEmail, messageID, token string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", account.Email, account.Name)
	if email.ToName != "" {
		msg.SetAddressHeader("To", email.To, email.ToName)
	} else {
		msg.SetHeader("To", email.To)
	}
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetHeader("X-Mailer", "ColdMail Outreach Engine")
	msg.SetHeader("List-Unsubscribe", fmt.Sprintf("<mailto:unsubscribe@%s>", account.Domain()))
	msg.SetHeader("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")

	if email.InReplyTo != "" {
		msg.SetHeader("In-Reply-To", email.InReplyTo)
		refs := email.References
		if len(refs) == 0 {
			refs = []string{email.InReplyTo}
		}
		msg.SetHeader("References", strings.Join(refs, " "))
	}
	if email.WarmupToken != "" {
		msg.SetHeader(WarmupHeader, email.WarmupToken)
	}
	for k, v := range email.Headers {
		msg.SetHeader(k, v)
	}

	html := wrapHTML(email.Content, account.Name, account.Email)
	if token != "" {
		html = InjectTracking(html, m.baseURL, token, email.TrackOpens, email.TrackClicks)
	}
	msg.SetBody("text/plain", StripHTML(email.Content))
	msg.AddAlternative("text/html", html)
	return msg
}

func (m *Mailer) disableAccount(account *models.EmailAccount, cause error) {
	msg := cause.Error()
	account.IsActive = false
	account.LastError = &msg
	if err := m.db.Model(&models.EmailAccount{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
		"is_active":  false,
		"last_error": msg,
	}).Error; err != nil {
		m.logger.WithError(err).Error("Failed to disable account after auth failure")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"account": account.Email,
		"error":   msg,
	}).Error("Account disabled after authentication failure")
}

// smtpTransport dials and submits through gomail.
func smtpTransport(account *models.EmailAccount, password string, msg *gomail.Message) error {
	dialer := gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUsername, password)
	dialer.TLSConfig = &tls.Config{ServerName: account.SMTPHost}
	if account.SMTPEncryption == "ssl" {
		dialer.SSL = true
	}
	return dialer.DialAndSend(msg)
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)
var htmlBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)

// StripHTML turns an HTML fragment into the plain-text alternative.
func StripHTML(html string) string {
	text := htmlBreakPattern.ReplaceAllString(html, "\n")
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	return strings.TrimSpace(text)
}

// wrapHTML puts the content into the standard outer document with the
// sender signature block. Plain-text content gets newline conversion.
func wrapHTML(content, senderName, senderEmail string) string {
	body := content
	if !strings.Contains(content, "<") {
		body = strings.ReplaceAll(content, "\n", "<br/>")
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; font-size: 14px; color: #222;">
<div>%s</div>
<br/>
<div style="color: #666; font-size: 12px;">
%s<br/>
%s
</div>
</body>
</html>`, body, senderName, senderEmail)
}

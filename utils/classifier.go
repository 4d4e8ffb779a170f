package utils

import (
	"regexp"
	"strings"
	"time"

	"coldmail/models"
)

// Classification is the verdict for an inbound message.
type Classification int

const (
	ClassUnrelated Classification = iota
	ClassCampaignReply
	ClassWarmupReply
	ClassBounce
)

func (c Classification) String() string {
	switch c {
	case ClassCampaignReply:
		return "campaign-reply"
	case ClassWarmupReply:
		return "warmup-reply"
	case ClassBounce:
		return "bounce"
	default:
		return "unrelated"
	}
}

// WarmupHeader carries the correlation token on warmup traffic. It is a
// custom header so the visible subject stays untouched.
const WarmupHeader = "X-CM-Warmup"

// InboundMessage is the classifier's view of a fetched message. Built
// by the inbox synchronizer, but has no IMAP or DB dependencies so the
// classifier stays pure.
type InboundMessage struct {
	UID         uint32
	MessageID   string
	InReplyTo   string
	References  []string
	FromName    string
	FromEmail   string
	To          []string
	Subject     string
	ContentType string
	TextBody    string
	HTMLBody    string
	WarmupToken string // value of the correlation header, if present
	Attachments []string
	Date        time.Time
}

// SentIndex looks up previously sent messages. Backed by EmailLog.
type SentIndex interface {
	FindByMessageID(messageID string) (*models.EmailLog, bool)
	FindByNormalizedSubject(subject string) (*models.EmailLog, bool)
}

// WarmupIndex looks up warmup traffic between operator accounts.
type WarmupIndex interface {
	FindByToken(token string) (*models.WarmupEmail, bool)
	FindPair(fromEmail, toEmail string) (*models.WarmupEmail, bool)
}

var bounceSubjectIndicators = []string{
	"delivery status notification",
	"undelivered mail returned",
	"mail delivery failed",
	"mail delivery subsystem",
	"message not delivered",
	"delivery failure",
	"returned mail",
	"failure notice",
	"bounce",
}

var bounceSenderIndicators = []string{
	"mailer-daemon",
	"postmaster",
	"mail delivery subsystem",
}

var replyPrefixPattern = regexp.MustCompile(`^(?i:(re|fw|fwd)\s*:\s*)+`)

// NormalizeSubject strips reply/forward prefixes and lowercases, so a
// "Re: Re: Quick question" matches the original "Quick question".
func NormalizeSubject(subject string) string {
	s := replyPrefixPattern.ReplaceAllString(strings.TrimSpace(subject), "")
	return strings.ToLower(strings.TrimSpace(s))
}

// Classify assigns exactly one category with fixed priority:
// bounce, then warmup reply, then campaign reply, then unrelated.
func Classify(msg *InboundMessage, sent SentIndex, warmup WarmupIndex) Classification {
	if isBounce(msg) {
		return ClassBounce
	}
	if isWarmupReply(msg, warmup) {
		return ClassWarmupReply
	}
	if isCampaignReply(msg, sent) {
		return ClassCampaignReply
	}
	return ClassUnrelated
}

func isBounce(msg *InboundMessage) bool {
	from := strings.ToLower(msg.FromEmail)
	for _, s := range bounceSenderIndicators {
		if strings.Contains(from, s) {
			return true
		}
	}
	ct := strings.ToLower(msg.ContentType)
	if strings.Contains(ct, "report-type=delivery-status") ||
		strings.Contains(ct, "delivery-status") {
		return true
	}
	subject := strings.ToLower(msg.Subject)
	for _, s := range bounceSubjectIndicators {
		if strings.Contains(subject, s) {
			return true
		}
	}
	return false
}

func isWarmupReply(msg *InboundMessage, warmup WarmupIndex) bool {
	if warmup == nil {
		return false
	}
	if msg.WarmupToken != "" {
		if _, ok := warmup.FindByToken(msg.WarmupToken); ok {
			return true
		}
	}
	for _, to := range msg.To {
		if _, ok := warmup.FindPair(msg.FromEmail, to); ok {
			return true
		}
	}
	return false
}

func isCampaignReply(msg *InboundMessage, sent SentIndex) bool {
	if sent == nil {
		return false
	}
	if msg.InReplyTo != "" {
		if _, ok := sent.FindByMessageID(msg.InReplyTo); ok {
			return true
		}
	}
	for _, ref := range msg.References {
		if _, ok := sent.FindByMessageID(ref); ok {
			return true
		}
	}
	// Fall back to subject matching only when the message actually
	// looks like a reply.
	if replyPrefixPattern.MatchString(strings.TrimSpace(msg.Subject)) {
		if _, ok := sent.FindByNormalizedSubject(NormalizeSubject(msg.Subject)); ok {
			return true
		}
	}
	return false
}

// MatchSentLog returns the sent-log row an inbound reply correlates
// with, using the same matching order as classification.
func MatchSentLog(msg *InboundMessage, sent SentIndex) (*models.EmailLog, bool) {
	if msg.InReplyTo != "" {
		if log, ok := sent.FindByMessageID(msg.InReplyTo); ok {
			return log, true
		}
	}
	for _, ref := range msg.References {
		if log, ok := sent.FindByMessageID(ref); ok {
			return log, true
		}
	}
	if replyPrefixPattern.MatchString(strings.TrimSpace(msg.Subject)) {
		if log, ok := sent.FindByNormalizedSubject(NormalizeSubject(msg.Subject)); ok {
			return log, true
		}
	}
	return nil, false
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractBouncedRecipient digs the failed recipient address out of a
// bounce notification, skipping daemon addresses and our own.
func ExtractBouncedRecipient(msg *InboundMessage, selfEmail string) string {
	for _, text := range []string{msg.Subject, msg.TextBody} {
		for _, candidate := range emailPattern.FindAllString(text, -1) {
			lower := strings.ToLower(candidate)
			if lower == strings.ToLower(selfEmail) {
				continue
			}
			if strings.Contains(lower, "mailer-daemon") || strings.Contains(lower, "postmaster") {
				continue
			}
			return lower
		}
	}
	return ""
}

// ThreadID derives a stable conversation id for an inbound message:
// the root of the References chain, else In-Reply-To, else the
// message's own id.
func ThreadID(msg *InboundMessage) string {
	if len(msg.References) > 0 && msg.References[0] != "" {
		return msg.References[0]
	}
	if msg.InReplyTo != "" {
		return msg.InReplyTo
	}
	return msg.MessageID
}

package utils

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
)

// firstSyncLookback bounds the initial fetch for an account that has
// never been synced.
const firstSyncLookback = 7 * 24 * time.Hour

// imapSession is the slice of the go-imap client the syncer uses.
// *client.Client satisfies it; tests substitute a fake.
type imapSession interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// SyncResult summarizes one sync pass over an account's inbox.
type SyncResult struct {
	Processed int
	Replies   int
	Bounces   int
	LastUID   uint32
}

// InboxSyncer pulls new mail per account over IMAP, classifies it and
// applies the side effects. At most one sync runs per account at a
// time; different accounts sync concurrently.
type InboxSyncer struct {
	db     *gorm.DB
	guard  *DeliverabilityGuard
	warmup *WarmupMailer
	retry  RetryPolicy
	logger *logrus.Entry
	now    func() time.Time

	mu      sync.Mutex
	running map[uint]bool

	dial func(account *models.EmailAccount, password string) (imapSession, error)
}

func NewInboxSyncer(db *gorm.DB, guard *DeliverabilityGuard, warmup *WarmupMailer, logger *logrus.Logger) *InboxSyncer {
	return &InboxSyncer{
		db:      db,
		guard:   guard,
		warmup:  warmup,
		retry:   DefaultRetryPolicy(),
		logger:  logger.WithField("component", "inbox-sync"),
		now:     time.Now,
		running: make(map[uint]bool),
		dial:    dialIMAP,
	}
}

// dialIMAP opens and authenticates an IMAP connection per the account's
// encryption setting.
func dialIMAP(account *models.EmailAccount, password string) (imapSession, error) {
	addr := fmt.Sprintf("%s:%d", account.IMAPHost, account.IMAPPort)

	var c *client.Client
	var err error
	switch account.IMAPEncryption {
	case "ssl", "tls", "":
		c, err = client.DialTLS(addr, nil)
	case "starttls":
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(nil)
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", addr, err)
	}

	username := account.IMAPUsername
	if username == "" {
		username = account.Email
	}
	if err := c.Login(username, password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("%w: imap login: %v", ErrAuthentication, err)
	}
	return c, nil
}

// tryAcquire takes the per-account sync slot without blocking.
func (s *InboxSyncer) tryAcquire(accountID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[accountID] {
		return false
	}
	s.running[accountID] = true
	return true
}

func (s *InboxSyncer) release(accountID uint) {
	s.mu.Lock()
	delete(s.running, accountID)
	s.mu.Unlock()
}

// Sync runs one sync pass for the account. Returns ErrSyncInProgress
// if another pass already holds the account.
func (s *InboxSyncer) Sync(ctx context.Context, account *models.EmailAccount) (*SyncResult, error) {
	if !s.tryAcquire(account.ID) {
		return nil, ErrSyncInProgress
	}
	defer s.release(account.ID)

	state, err := s.loadState(account.ID)
	if err != nil {
		return nil, err
	}
	state.SyncStatus = models.SyncRunning
	state.ErrorMessage = ""
	if err := s.db.Save(state).Error; err != nil {
		return nil, err
	}

	result, err := s.run(ctx, account, state)
	if err != nil {
		state.SyncStatus = models.SyncError
		state.ErrorMessage = err.Error()
	} else {
		state.SyncStatus = models.SyncIdle
	}
	syncedAt := s.now()
	state.LastSyncAt = &syncedAt
	if serr := s.db.Save(state).Error; serr != nil {
		s.logger.WithError(serr).Error("Failed to persist sync state")
	}
	if err == nil {
		if uerr := s.db.Model(&models.EmailAccount{}).Where("id = ?", account.ID).
			Update("last_sync_at", syncedAt).Error; uerr != nil {
			s.logger.WithError(uerr).Warn("Failed to stamp account sync time")
		}
	}
	return result, err
}

func (s *InboxSyncer) loadState(accountID uint) (*models.InboxSync, error) {
	var state models.InboxSync
	err := s.db.Where(models.InboxSync{AccountID: accountID}).
		FirstOrCreate(&state).Error
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *InboxSyncer) run(ctx context.Context, account *models.EmailAccount, state *models.InboxSync) (*SyncResult, error) {
	password, err := s.imapCredential(ctx, account)
	if err != nil {
		return nil, err
	}

	var session imapSession
	err = s.retry.Do(ctx, func() error {
		var derr error
		session, derr = s.dial(account, password)
		return derr
	})
	if err != nil {
		if IsAuthError(err) {
			s.disableAccount(account, err)
		}
		return nil, err
	}
	defer session.Logout()

	mailbox := account.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := session.Select(mailbox, true); err != nil {
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	if state.LastUID > 0 {
		seqset := new(imap.SeqSet)
		seqset.AddRange(state.LastUID+1, 0)
		criteria.Uid = seqset
	} else {
		criteria.Since = s.now().Add(-firstSyncLookback)
	}

	uids, err := session.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("uid search: %w", err)
	}
	// Servers treat "N:*" as matching at least the last message even
	// when N is past it; drop anything at or below the cursor.
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > state.LastUID {
			filtered = append(filtered, uid)
		}
	}
	uids = filtered
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	result := &SyncResult{LastUID: state.LastUID}
	if len(uids) == 0 {
		return result, nil
	}

	fetched, err := s.fetch(session, uids)
	if err != nil {
		return result, err
	}

	sentIdx := &gormSentIndex{db: s.db}
	warmupIdx := &gormWarmupIndex{db: s.db}

	for _, uid := range uids {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		raw, ok := fetched[uid]
		if !ok {
			// The server did not return this UID; stop here so the
			// cursor never jumps over an unseen message.
			return result, fmt.Errorf("uid %d missing from fetch response", uid)
		}

		if err := s.processMessage(ctx, account, state, result, uid, raw, sentIdx, warmupIdx); err != nil {
			return result, err
		}

		state.LastUID = uid
		state.EmailsProcessed++
		result.LastUID = uid
		result.Processed++
	}

	return result, nil
}

func (s *InboxSyncer) imapCredential(ctx context.Context, account *models.EmailAccount) (string, error) {
	switch account.Provider {
	case "gmail", "outlook":
		if account.IMAPPassword == "" {
			return RefreshAccessToken(ctx, account)
		}
	}
	return Decrypt(account.IMAPPassword)
}

var fetchSection = &imap.BodySectionName{Peek: true}

func (s *InboxSyncer) fetch(session imapSession, uids []uint32) (map[uint32]*imap.Message, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		imap.FetchInternalDate,
		fetchSection.FetchItem(),
	}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- session.UidFetch(seqset, items, ch)
	}()

	fetched := make(map[uint32]*imap.Message, len(uids))
	for msg := range ch {
		fetched[msg.Uid] = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("uid fetch: %w", err)
	}
	return fetched, nil
}

func (s *InboxSyncer) processMessage(ctx context.Context, account *models.EmailAccount, state *models.InboxSync, result *SyncResult, uid uint32, raw *imap.Message, sentIdx SentIndex, warmupIdx WarmupIndex) error {
	msg, err := parseIMAPMessage(raw, uid)
	if err != nil {
		// A malformed message must not stall the whole mailbox.
		s.logger.WithFields(logrus.Fields{
			"account": account.Email,
			"uid":     uid,
		}).WithError(err).Warn("Skipping unparseable message")
		return nil
	}

	var existing models.InboxMessage
	err = s.db.Where("message_id = ?", msg.MessageID).First(&existing).Error
	if err == nil {
		return nil // already stored by an earlier, overlapping sync
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	class := Classify(msg, sentIdx, warmupIdx)

	row := &models.InboxMessage{
		AccountID:   account.ID,
		MessageID:   msg.MessageID,
		ThreadID:    ThreadID(msg),
		InReplyTo:   msg.InReplyTo,
		UID:         uid,
		FromName:    msg.FromName,
		FromEmail:   strings.ToLower(msg.FromEmail),
		Subject:     msg.Subject,
		TextBody:    msg.TextBody,
		HTMLBody:    msg.HTMLBody,
		Attachments: msg.Attachments,
		SentByMe:    s.isOperatorAddress(msg.FromEmail),
		ReceivedAt:  msg.Date,
	}
	row.To = make([]models.EmailAddress, 0, len(msg.To))
	for _, to := range msg.To {
		row.To = append(row.To, models.EmailAddress{Email: strings.ToLower(to)})
	}

	switch class {
	case ClassBounce:
		row.IsBounce = true
		row.Labels = []string{"bounce"}
		if err := s.handleBounce(account, msg, row); err != nil {
			return err
		}
		state.BouncesFound++
		result.Bounces++

	case ClassWarmupReply:
		row.IsWarmup = true
		row.IsRead = true // warmup chatter should not clutter the unibox
		row.Labels = []string{"warmup"}
		if err := s.handleWarmup(ctx, account, msg); err != nil {
			return err
		}

	case ClassCampaignReply:
		row.IsReply = true
		row.Labels = []string{"reply"}
		if err := s.handleCampaignReply(account, msg, row, sentIdx); err != nil {
			return err
		}
		state.RepliesFound++
		result.Replies++
	}

	return s.db.Create(row).Error
}

// isOperatorAddress reports whether the sender is one of our own
// sending accounts, so thread views can tell both sides apart.
func (s *InboxSyncer) isOperatorAddress(email string) bool {
	if email == "" {
		return false
	}
	var n int64
	err := s.db.Model(&models.EmailAccount{}).
		Where("email = ?", strings.ToLower(email)).Count(&n).Error
	return err == nil && n > 0
}

func (s *InboxSyncer) handleBounce(account *models.EmailAccount, msg *InboundMessage, row *models.InboxMessage) error {
	recipient := ExtractBouncedRecipient(msg, account.Email)
	if recipient == "" {
		s.logger.WithField("subject", msg.Subject).Debug("Bounce without identifiable recipient")
		return s.guard.AdjustReputation(account.ID, RepDeltaBounce)
	}

	if err := s.guard.RecordBounce(EmailDomain(recipient), "hard bounce"); err != nil {
		return err
	}
	if err := s.guard.AdjustReputation(account.ID, RepDeltaBounce); err != nil {
		return err
	}

	var lead models.Lead
	if err := s.db.Where("email = ?", recipient).First(&lead).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}
	row.LeadID = &lead.ID

	// Bounced is absorbing: set it regardless of the current funnel
	// position, but never override unsubscribed.
	if lead.Status != models.LeadUnsubscribed {
		lead.Status = models.LeadBounced
	}
	lead.BounceCount++
	if err := s.db.Save(&lead).Error; err != nil {
		return err
	}

	var enrollments []models.CampaignLead
	if err := s.db.Where("lead_id = ?", lead.ID).Find(&enrollments).Error; err != nil {
		return err
	}
	for i := range enrollments {
		cl := &enrollments[i]
		if cl.Terminal() {
			continue
		}
		cl.Status = models.EnrollBounced
		if err := s.db.Save(cl).Error; err != nil {
			return err
		}
		if err := s.db.Model(&models.Campaign{}).Where("id = ?", cl.CampaignID).
			Update("stats_bounced", gorm.Expr("stats_bounced + 1")).Error; err != nil {
			return err
		}
		row.CampaignID = &cl.CampaignID
	}

	// Mark the matching sent log, if we can find it.
	if log, ok := MatchSentLog(msg, &gormSentIndex{db: s.db}); ok {
		now := s.now()
		log.Status = models.LogBounced
		log.BouncedAt = &now
		if err := s.db.Save(log).Error; err != nil {
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"account":   account.Email,
		"recipient": recipient,
	}).Info("Bounce processed")
	return nil
}

func (s *InboxSyncer) handleWarmup(ctx context.Context, account *models.EmailAccount, msg *InboundMessage) error {
	warmupIdx := &gormWarmupIndex{db: s.db}
	var record *models.WarmupEmail
	if msg.WarmupToken != "" {
		if r, ok := warmupIdx.FindByToken(msg.WarmupToken); ok {
			record = r
		}
	}
	if record == nil {
		for _, to := range msg.To {
			if r, ok := warmupIdx.FindPair(msg.FromEmail, to); ok {
				record = r
				break
			}
		}
	}
	if record == nil {
		return nil
	}
	return s.warmup.HandleInboundWarmup(ctx, account, msg, record)
}

func (s *InboxSyncer) handleCampaignReply(account *models.EmailAccount, msg *InboundMessage, row *models.InboxMessage, sentIdx SentIndex) error {
	log, ok := MatchSentLog(msg, sentIdx)
	if !ok {
		return nil
	}
	row.CampaignID = log.CampaignID
	row.LeadID = log.LeadID

	now := s.now()
	if log.RepliedAt == nil {
		log.RepliedAt = &now
		log.Status = models.LogReplied
		if err := s.db.Save(log).Error; err != nil {
			return err
		}
	}

	if log.LeadID != nil {
		var lead models.Lead
		if err := s.db.First(&lead, *log.LeadID).Error; err == nil {
			if lead.AdvanceStatus(models.LeadReplied) {
				lead.RepliedAt = &now
				if err := s.db.Save(&lead).Error; err != nil {
					return err
				}
			}
		}
	}

	if log.CampaignID != nil && log.LeadID != nil {
		var cl models.CampaignLead
		err := s.db.Where("campaign_id = ? AND lead_id = ?", *log.CampaignID, *log.LeadID).
			First(&cl).Error
		if err == nil && !cl.Terminal() {
			cl.Status = models.EnrollReplied
			if err := s.db.Save(&cl).Error; err != nil {
				return err
			}
			if err := s.db.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_replied", gorm.Expr("stats_replied + 1")).Error; err != nil {
				return err
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"account": account.Email,
		"from":    msg.FromEmail,
	}).Info("Campaign reply processed")
	return nil
}

func (s *InboxSyncer) disableAccount(account *models.EmailAccount, cause error) {
	msg := cause.Error()
	if err := s.db.Model(&models.EmailAccount{}).Where("id = ?", account.ID).Updates(map[string]interface{}{
		"is_active":  false,
		"last_error": msg,
	}).Error; err != nil {
		s.logger.WithError(err).Error("Failed to disable account")
		return
	}
	s.logger.WithField("account", account.Email).Error("Account disabled after IMAP auth failure")
}

// parseIMAPMessage converts a fetched message into the classifier's
// envelope+body view. Header data comes from the IMAP envelope; the
// MIME body is walked for text, html and attachment names.
func parseIMAPMessage(raw *imap.Message, uid uint32) (*InboundMessage, error) {
	if raw == nil || raw.Envelope == nil {
		return nil, &ParseError{UID: uid, Err: fmt.Errorf("no envelope")}
	}
	env := raw.Envelope

	msg := &InboundMessage{
		UID:       uid,
		MessageID: env.MessageId,
		InReplyTo: env.InReplyTo,
		Subject:   env.Subject,
		Date:      env.Date,
	}
	if msg.Date.IsZero() {
		msg.Date = raw.InternalDate
	}
	if len(env.From) > 0 {
		msg.FromName = env.From[0].PersonalName
		msg.FromEmail = env.From[0].Address()
	}
	for _, to := range env.To {
		msg.To = append(msg.To, to.Address())
	}

	body := raw.GetBody(fetchSection)
	if body == nil {
		if msg.MessageID == "" {
			msg.MessageID = generatedMessageID()
		}
		return msg, nil
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, &ParseError{UID: uid, Err: err}
	}

	header := mr.Header
	if v, err := header.Text("Content-Type"); err == nil {
		msg.ContentType = v
	}
	msg.WarmupToken = header.Get(WarmupHeader)
	if refs := header.Get("References"); refs != "" {
		msg.References = strings.Fields(refs)
	}
	if msg.InReplyTo == "" {
		msg.InReplyTo = strings.TrimSpace(header.Get("In-Reply-To"))
	}
	if msg.MessageID == "" {
		msg.MessageID = strings.TrimSpace(header.Get("Message-Id"))
	}
	if msg.MessageID == "" {
		msg.MessageID = generatedMessageID()
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep whatever parts parsed cleanly.
			break
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			data, rerr := io.ReadAll(part.Body)
			if rerr != nil {
				continue
			}
			switch ct {
			case "text/plain":
				if msg.TextBody == "" {
					msg.TextBody = string(data)
				}
			case "text/html":
				if msg.HTMLBody == "" {
					msg.HTMLBody = string(data)
				}
			}
		case *mail.AttachmentHeader:
			if filename, ferr := h.Filename(); ferr == nil && filename != "" {
				msg.Attachments = append(msg.Attachments, filename)
			}
		}
	}

	if msg.TextBody == "" && msg.HTMLBody != "" {
		msg.TextBody = StripHTML(msg.HTMLBody)
	}
	return msg, nil
}

func generatedMessageID() string {
	return fmt.Sprintf("<%s@generated.local>", uuid.New().String())
}

// gormSentIndex backs the classifier's sent lookup with EmailLog.
type gormSentIndex struct {
	db *gorm.DB
}

func (i *gormSentIndex) FindByMessageID(messageID string) (*models.EmailLog, bool) {
	var log models.EmailLog
	err := i.db.Where("message_id = ?", messageID).First(&log).Error
	if err != nil {
		return nil, false
	}
	return &log, true
}

func (i *gormSentIndex) FindByNormalizedSubject(subject string) (*models.EmailLog, bool) {
	if subject == "" {
		return nil, false
	}
	var log models.EmailLog
	err := i.db.Where("normalized_subject = ?", subject).
		Order("sent_at desc").First(&log).Error
	if err != nil {
		return nil, false
	}
	return &log, true
}

// gormWarmupIndex backs the classifier's warmup lookup.
type gormWarmupIndex struct {
	db *gorm.DB
}

func (i *gormWarmupIndex) FindByToken(token string) (*models.WarmupEmail, bool) {
	var record models.WarmupEmail
	err := i.db.Where("token = ?", token).Order("id desc").First(&record).Error
	if err != nil {
		return nil, false
	}
	return &record, true
}

func (i *gormWarmupIndex) FindPair(fromEmail, toEmail string) (*models.WarmupEmail, bool) {
	var from, to models.EmailAccount
	if err := i.db.Where("email = ?", strings.ToLower(fromEmail)).First(&from).Error; err != nil {
		return nil, false
	}
	if err := i.db.Where("email = ?", strings.ToLower(toEmail)).First(&to).Error; err != nil {
		return nil, false
	}
	var record models.WarmupEmail
	err := i.db.Where("(from_account_id = ? AND to_account_id = ?) OR (from_account_id = ? AND to_account_id = ?)",
		to.ID, from.ID, from.ID, to.ID).
		Order("id desc").First(&record).Error
	if err != nil {
		return nil, false
	}
	return &record, true
}

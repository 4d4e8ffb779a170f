package controller

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
	"coldmail/utils"
)

const (
	ErrInvalidMessageID = "invalid message ID"
	ErrMessageNotFound  = "message not found"
)

// UniboxController serves the combined inbox across all accounts.
type UniboxController struct {
	DB     *gorm.DB
	Mailer *utils.Mailer
	Warmup *utils.WarmupMailer
	Logger *logrus.Entry
}

func NewUniboxController(db *gorm.DB, mailer *utils.Mailer, warmup *utils.WarmupMailer, logger *logrus.Logger) *UniboxController {
	return &UniboxController{
		DB:     db,
		Mailer: mailer,
		Warmup: warmup,
		Logger: logger.WithField("controller", "unibox"),
	}
}

// GetMessages lists inbox messages newest first, with filters for
// account, read/starred state, classification and free-text search.
func (uc *UniboxController) GetMessages(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 25)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 25
	}

	query := uc.DB.Model(&models.InboxMessage{})
	if accountID := c.QueryInt("accountId", 0); accountID > 0 {
		query = query.Where("account_id = ?", accountID)
	}
	if unread := c.Query("unread"); unread == "true" {
		query = query.Where("is_read = ?", false)
	}
	if starred := c.Query("starred"); starred == "true" {
		query = query.Where("is_starred = ?", true)
	}
	switch c.Query("type") {
	case "reply":
		query = query.Where("is_reply = ?", true)
	case "bounce":
		query = query.Where("is_bounce = ?", true)
	case "warmup":
		query = query.Where("is_warmup = ?", true)
	case "inbox":
		query = query.Where("is_warmup = ? AND is_bounce = ?", false, false)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"lower(subject) LIKE ? OR lower(from_email) LIKE ? OR lower(text_body) LIKE ?",
			like, like, like)
	}

	var total int64
	query.Count(&total)

	var messages []models.InboxMessage
	if err := query.Order("received_at desc").
		Offset((page - 1) * limit).Limit(limit).
		Find(&messages).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load messages")
	}
	return utils.PaginatedResponse(c, messages, page, limit, total)
}

// GetThread returns every stored message sharing a thread id.
func (uc *UniboxController) GetThread(c *fiber.Ctx) error {
	threadID := c.Params("threadId")
	if threadID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "missing thread ID")
	}
	var messages []models.InboxMessage
	if err := uc.DB.Where("thread_id = ?", threadID).
		Order("received_at asc").Find(&messages).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load thread")
	}
	return utils.SuccessResponse(c, messages)
}

type UpdateMessageRequest struct {
	IsRead    *bool `json:"isRead"`
	IsStarred *bool `json:"isStarred"`
}

// UpdateMessage flips read/starred flags.
func (uc *UniboxController) UpdateMessage(c *fiber.Ctx) error {
	message, ferr := uc.findMessage(c)
	if message == nil {
		return ferr
	}
	var req UpdateMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody)
	}
	updates := map[string]interface{}{}
	if req.IsRead != nil {
		updates["is_read"] = *req.IsRead
	}
	if req.IsStarred != nil {
		updates["is_starred"] = *req.IsStarred
	}
	if len(updates) == 0 {
		return utils.SuccessResponse(c, message)
	}
	if err := uc.DB.Model(message).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to update message")
	}
	return utils.SuccessResponse(c, message)
}

type ReplyRequest struct {
	Content string `json:"content" validate:"required"`
}

// ReplyMessage sends a manual reply from the receiving account through
// the shared transport, threading it onto the original message.
func (uc *UniboxController) ReplyMessage(c *fiber.Ctx) error {
	message, ferr := uc.findMessage(c)
	if message == nil {
		return ferr
	}
	var req ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	var account models.EmailAccount
	if err := uc.DB.First(&account, message.AccountID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound)
	}

	subject := message.Subject
	if !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	entry, err := uc.Mailer.Send(c.Context(), &account, &utils.OutgoingEmail{
		To:        message.FromEmail,
		ToName:    message.FromName,
		Subject:   subject,
		Content:   req.Content,
		Type:      models.LogTypeReply,
		InReplyTo: message.MessageID,
		LeadID:    message.LeadID,
	})
	if err != nil {
		if errors.Is(err, utils.ErrRecipientBlacklisted) {
			return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "recipient domain is blacklisted")
		}
		uc.Logger.WithError(err).Error("Manual reply failed")
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "failed to send reply")
	}

	uc.DB.Model(message).Update("is_read", true)
	return utils.SuccessResponse(c, fiber.Map{
		"messageId": entry.MessageID,
		"to":        message.FromEmail,
	})
}

// MarkSpam records that a warmup message was found in spam, feeding the
// sender's reputation and the spam auto-pause monitor.
func (uc *UniboxController) MarkSpam(c *fiber.Ctx) error {
	message, ferr := uc.findMessage(c)
	if message == nil {
		return ferr
	}
	if !message.IsWarmup {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "only warmup messages can be marked as spam placement")
	}

	var record models.WarmupEmail
	err := uc.DB.Where("message_id = ?", message.MessageID).First(&record).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "warmup record not found for message")
	}
	if err := uc.Warmup.RecordSpamPlacement(record.FromAccountID, record.ID); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to record spam placement")
	}
	return utils.SuccessResponse(c, fiber.Map{"marked": message.ID})
}

func (uc *UniboxController) findMessage(c *fiber.Ctx) (*models.InboxMessage, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidMessageID)
	}
	var message models.InboxMessage
	if err := uc.DB.First(&message, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorResponse(c, fiber.StatusNotFound, ErrMessageNotFound)
		}
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load message")
	}
	return &message, nil
}

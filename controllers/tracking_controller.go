package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
	"coldmail/utils"
)

// 1x1 transparent GIF served as the open-tracking pixel.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingController handles open pixels, click redirects and one-click
// unsubscribes. These feed the sequencer's condition gates.
type TrackingController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewTrackingController(db *gorm.DB, logger *logrus.Logger) *TrackingController {
	return &TrackingController{
		DB:     db,
		Logger: logger.WithField("controller", "tracking"),
	}
}

// TrackOpen records an open event and serves the pixel. Always returns
// the pixel, even for unknown tokens.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	token := c.Params("token")
	if token != "" {
		tc.recordOpen(token)
	}
	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store")
	return c.Send(trackingPixel)
}

// TrackClick records a click (which implies an open) and redirects to
// the original destination.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	token := c.Params("token")
	target := c.Query("url")
	if target == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "missing redirect url")
	}
	if token != "" {
		tc.recordClick(token)
	}
	return c.Redirect(target, fiber.StatusFound)
}

// Unsubscribe flips the lead to the absorbing unsubscribed state.
func (tc *TrackingController) Unsubscribe(c *fiber.Ctx) error {
	token := c.Params("token")
	log, ok := tc.findLog(token)
	if !ok || log.LeadID == nil {
		return c.SendString("You have been unsubscribed.")
	}

	var lead models.Lead
	if err := tc.DB.First(&lead, *log.LeadID).Error; err == nil {
		lead.Status = models.LeadUnsubscribed
		if err := tc.DB.Save(&lead).Error; err != nil {
			tc.Logger.WithError(err).Error("Failed to unsubscribe lead")
		}
		tc.DB.Model(&models.CampaignLead{}).
			Where("lead_id = ? AND status IN ?", lead.ID,
				[]string{models.EnrollPending, models.EnrollInProgress}).
			Update("status", models.EnrollUnsubscribed)
		if log.CampaignID != nil {
			tc.DB.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_unsubscribed", gorm.Expr("stats_unsubscribed + 1"))
		}
		tc.Logger.WithField("lead", lead.Email).Info("Lead unsubscribed")
	}
	return c.SendString("You have been unsubscribed.")
}

func (tc *TrackingController) recordOpen(token string) {
	log, ok := tc.findLog(token)
	if !ok || log.OpenedAt != nil {
		return
	}
	now := time.Now()
	log.OpenedAt = &now
	if log.Status == models.LogSent {
		log.Status = models.LogOpened
	}
	if err := tc.DB.Save(log).Error; err != nil {
		tc.Logger.WithError(err).Error("Failed to record open")
		return
	}
	if log.CampaignID != nil {
		tc.DB.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
			Update("stats_opened", gorm.Expr("stats_opened + 1"))
	}
	if log.LeadID != nil {
		var lead models.Lead
		if err := tc.DB.First(&lead, *log.LeadID).Error; err == nil {
			if lead.AdvanceStatus(models.LeadOpened) {
				tc.DB.Save(&lead)
			}
		}
	}
}

func (tc *TrackingController) recordClick(token string) {
	log, ok := tc.findLog(token)
	if !ok {
		return
	}
	now := time.Now()
	changed := false
	if log.OpenedAt == nil {
		log.OpenedAt = &now
		changed = true
		if log.CampaignID != nil {
			tc.DB.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_opened", gorm.Expr("stats_opened + 1"))
		}
	}
	if log.ClickedAt == nil {
		log.ClickedAt = &now
		log.Status = models.LogClicked
		changed = true
		if log.CampaignID != nil {
			tc.DB.Model(&models.Campaign{}).Where("id = ?", *log.CampaignID).
				Update("stats_clicked", gorm.Expr("stats_clicked + 1"))
		}
	}
	if changed {
		if err := tc.DB.Save(log).Error; err != nil {
			tc.Logger.WithError(err).Error("Failed to record click")
			return
		}
	}
	if log.LeadID != nil {
		var lead models.Lead
		if err := tc.DB.First(&lead, *log.LeadID).Error; err == nil {
			if lead.AdvanceStatus(models.LeadClicked) {
				tc.DB.Save(&lead)
			}
		}
	}
}

func (tc *TrackingController) findLog(token string) (*models.EmailLog, bool) {
	var log models.EmailLog
	err := tc.DB.Where("tracking_token = ?", token).First(&log).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || err != nil {
		return nil, false
	}
	return &log, true
}

package controller

import (
	"strconv"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
)

// CampaignProgressWS streams live campaign counters to a websocket
// client until the campaign leaves the active state or the client
// disconnects.
func CampaignProgressWS(db *gorm.DB, logger *logrus.Logger) func(*websocket.Conn) {
	log := logger.WithField("controller", "campaign-ws")

	return func(conn *websocket.Conn) {
		defer conn.Close()

		id, err := strconv.Atoi(conn.Params("id"))
		if err != nil || id <= 0 {
			conn.WriteJSON(map[string]string{"error": ErrInvalidCampaignID})
			return
		}

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			var campaign models.Campaign
			if err := db.First(&campaign, id).Error; err != nil {
				conn.WriteJSON(map[string]string{"error": ErrCampaignNotFound})
				return
			}

			var pending int64
			db.Model(&models.CampaignLead{}).
				Where("campaign_id = ? AND status IN ?", campaign.ID,
					[]string{models.EnrollPending, models.EnrollInProgress}).
				Count(&pending)

			payload := map[string]interface{}{
				"campaignId": campaign.ID,
				"status":     campaign.Status,
				"stats":      campaign.Stats,
				"pending":    pending,
				"openRate":   campaign.Stats.OpenRate(),
				"replyRate":  campaign.Stats.ReplyRate(),
				"bounceRate": campaign.Stats.BounceRate(),
			}
			if err := conn.WriteJSON(payload); err != nil {
				log.WithError(err).Debug("Websocket client gone")
				return
			}

			if campaign.Status != models.CampaignActive {
				return
			}
		}
	}
}

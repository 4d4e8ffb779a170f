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

const (
	ErrInvalidCampaignID = "invalid campaign ID"
	ErrCampaignNotFound  = "campaign not found"
	ErrCampaignNotDraft  = "campaign can only be started from draft or paused"
	ErrEmptySequence     = "campaign needs at least one sequence step"
	ErrNoAccounts        = "campaign needs at least one sending account"
)

// CampaignController manages campaign lifecycle and stats.
type CampaignController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewCampaignController(db *gorm.DB, logger *logrus.Logger) *CampaignController {
	return &CampaignController{
		DB:     db,
		Logger: logger.WithField("controller", "campaign"),
	}
}

type SequenceStepRequest struct {
	StepNumber int    `json:"stepNumber" validate:"required,min=1"`
	Subject    string `json:"subject" validate:"required"`
	Content    string `json:"content" validate:"required"`
	DelayDays  int    `json:"delayDays" validate:"min=0"`
	IfOpened   *bool  `json:"ifOpened"`
	IfReplied  *bool  `json:"ifReplied"`
}

type CreateCampaignRequest struct {
	Name        string                   `json:"name" validate:"required"`
	Description string                   `json:"description"`
	AccountIDs  []uint                   `json:"accountIds" validate:"required,min=1"`
	Sequence    []SequenceStepRequest    `json:"sequence" validate:"required,min=1,dive"`
	Schedule    *models.ScheduleSettings `json:"schedule"`
	Throttle    *models.ThrottleSettings `json:"throttle"`
	Tracking    *models.TrackingSettings `json:"tracking"`
	LeadIDs     []uint                   `json:"leadIds"`
}

// CreateCampaign stores a draft campaign with its sequence and enrolls
// any leads supplied up front.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	var req CreateCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	var count int64
	if err := cc.DB.Model(&models.EmailAccount{}).Where("id IN ?", req.AccountIDs).Count(&count).Error; err != nil || count != int64(len(req.AccountIDs)) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "one or more accounts do not exist")
	}

	campaign := models.Campaign{
		Name:        req.Name,
		Description: req.Description,
		Status:      models.CampaignDraft,
		AccountIDs:  req.AccountIDs,
	}
	if req.Schedule != nil {
		campaign.Schedule = *req.Schedule
	} else {
		campaign.Schedule = models.ScheduleSettings{
			Timezone:    "UTC",
			WorkingDays: []int{1, 2, 3, 4, 5},
			StartTime:   "09:00",
			EndTime:     "17:00",
		}
	}
	if req.Throttle != nil {
		campaign.Throttle = *req.Throttle
	} else {
		campaign.Throttle = models.ThrottleSettings{
			EmailsPerHour:      10,
			DelayBetweenEmails: 300,
			RandomizeDelay:     true,
		}
	}
	if req.Tracking != nil {
		campaign.Tracking = *req.Tracking
	} else {
		campaign.Tracking = models.TrackingSettings{OpenTracking: true, ClickTracking: true}
	}

	for _, step := range req.Sequence {
		campaign.Sequence = append(campaign.Sequence, models.SequenceStep{
			StepNumber: step.StepNumber,
			Subject:    step.Subject,
			Content:    step.Content,
			DelayDays:  step.DelayDays,
			Conditions: models.StepConditions{
				IfOpened:  step.IfOpened,
				IfReplied: step.IfReplied,
			},
		})
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}
		return cc.enrollLeads(tx, &campaign, req.LeadIDs)
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to create campaign")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    campaign,
	})
}

type EnrollLeadsRequest struct {
	LeadIDs []uint `json:"leadIds" validate:"required,min=1"`
}

// AddLeads enrolls more leads into a campaign.
func (cc *CampaignController) AddLeads(c *fiber.Ctx) error {
	campaign, ferr := cc.findCampaign(c)
	if campaign == nil {
		return ferr
	}
	var req EnrollLeadsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if err := cc.enrollLeads(cc.DB, campaign, req.LeadIDs); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to enroll leads")
	}
	return utils.SuccessResponse(c, fiber.Map{"enrolled": len(req.LeadIDs)})
}

func (cc *CampaignController) enrollLeads(tx *gorm.DB, campaign *models.Campaign, leadIDs []uint) error {
	enrolled := 0
	for _, leadID := range leadIDs {
		var lead models.Lead
		if err := tx.First(&lead, leadID).Error; err != nil {
			continue
		}
		if lead.Absorbed() {
			continue // never enroll bounced or unsubscribed leads
		}
		cl := models.CampaignLead{
			CampaignID: campaign.ID,
			LeadID:     leadID,
			Status:     models.EnrollPending,
		}
		if err := tx.Where(models.CampaignLead{CampaignID: campaign.ID, LeadID: leadID}).
			FirstOrCreate(&cl).Error; err != nil {
			return err
		}
		enrolled++
	}
	if enrolled > 0 {
		return tx.Model(&models.Campaign{}).Where("id = ?", campaign.ID).
			Update("stats_total_leads", gorm.Expr("stats_total_leads + ?", enrolled)).Error
	}
	return nil
}

// StartCampaign activates a draft or paused campaign.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaign, ferr := cc.findCampaign(c)
	if campaign == nil {
		return ferr
	}
	if campaign.Status != models.CampaignDraft && campaign.Status != models.CampaignPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, ErrCampaignNotDraft)
	}

	var steps int64
	cc.DB.Model(&models.SequenceStep{}).Where("campaign_id = ?", campaign.ID).Count(&steps)
	if steps == 0 {
		return utils.ErrorResponse(c, fiber.StatusPreconditionFailed, ErrEmptySequence)
	}
	if len(campaign.AccountIDs) == 0 {
		return utils.ErrorResponse(c, fiber.StatusPreconditionFailed, ErrNoAccounts)
	}

	updates := map[string]interface{}{"status": models.CampaignActive}
	if campaign.StartedAt == nil {
		updates["started_at"] = time.Now()
	}
	if err := cc.DB.Model(campaign).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to start campaign")
	}
	cc.Logger.WithField("campaign", campaign.ID).Info("Campaign started")
	return utils.SuccessResponse(c, fiber.Map{
		"campaignId": campaign.ID,
		"status":     models.CampaignActive,
	})
}

// PauseCampaign suspends sending without losing per-lead cursors.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaign, ferr := cc.findCampaign(c)
	if campaign == nil {
		return ferr
	}
	if campaign.Status != models.CampaignActive {
		return utils.ErrorResponse(c, fiber.StatusConflict, "campaign is not active")
	}
	if err := cc.DB.Model(campaign).Update("status", models.CampaignPaused).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to pause campaign")
	}
	return utils.SuccessResponse(c, fiber.Map{
		"campaignId": campaign.ID,
		"status":     models.CampaignPaused,
	})
}

// GetCampaigns lists campaigns with their sequences.
func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	var campaigns []models.Campaign
	if err := cc.DB.Preload("Sequence").Order("id desc").Find(&campaigns).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load campaigns")
	}
	return utils.SuccessResponse(c, campaigns)
}

// GetCampaign returns one campaign.
func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	campaign, ferr := cc.findCampaign(c)
	if campaign == nil {
		return ferr
	}
	return utils.SuccessResponse(c, campaign)
}

// GetCampaignStats returns counters plus derived rates.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaign, ferr := cc.findCampaign(c)
	if campaign == nil {
		return ferr
	}
	return utils.SuccessResponse(c, fiber.Map{
		"campaignId": campaign.ID,
		"status":     campaign.Status,
		"stats":      campaign.Stats,
		"openRate":   campaign.Stats.OpenRate(),
		"replyRate":  campaign.Stats.ReplyRate(),
		"bounceRate": campaign.Stats.BounceRate(),
	})
}

func (cc *CampaignController) findCampaign(c *fiber.Ctx) (*models.Campaign, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidCampaignID)
	}
	var campaign models.Campaign
	if err := cc.DB.Preload("Sequence").First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorResponse(c, fiber.StatusNotFound, ErrCampaignNotFound)
		}
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load campaign")
	}
	return &campaign, nil
}

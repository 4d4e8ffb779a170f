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
	ErrInvalidLeadID = "invalid lead ID"
	ErrLeadNotFound  = "lead not found"
)

// LeadController manages prospect records.
type LeadController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewLeadController(db *gorm.DB, logger *logrus.Logger) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger.WithField("controller", "lead"),
	}
}

type LeadRequest struct {
	Email        string            `json:"email" validate:"required,email"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName"`
	Company      string            `json:"company"`
	JobTitle     string            `json:"jobTitle"`
	Website      string            `json:"website"`
	Industry     string            `json:"industry"`
	Source       string            `json:"source"`
	CustomFields map[string]string `json:"customFields"`
}

// CreateLeads imports one or more leads; duplicates by email are
// skipped, not errors.
func (lc *LeadController) CreateLeads(c *fiber.Ctx) error {
	var reqs []LeadRequest
	if err := c.BodyParser(&reqs); err != nil {
		// Accept a single object too.
		var one LeadRequest
		if err := c.BodyParser(&one); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody)
		}
		reqs = []LeadRequest{one}
	}

	created := 0
	skipped := 0
	for _, req := range reqs {
		if err := utils.ValidateStruct(&req); err != nil {
			skipped++
			continue
		}
		lead := models.Lead{
			Email:        strings.ToLower(req.Email),
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			Company:      req.Company,
			JobTitle:     req.JobTitle,
			Website:      req.Website,
			Industry:     req.Industry,
			Source:       req.Source,
			CustomFields: req.CustomFields,
			Status:       models.LeadNew,
		}
		if err := lc.DB.Create(&lead).Error; err != nil {
			skipped++
			continue
		}
		created++
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"created": created,
		"skipped": skipped,
	})
}

// GetLeads lists leads with pagination and optional status filter.
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := lc.DB.Model(&models.Lead{})
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"lower(email) LIKE ? OR lower(first_name) LIKE ? OR lower(company) LIKE ?",
			like, like, like)
	}

	var total int64
	query.Count(&total)

	var leads []models.Lead
	if err := query.Order("id desc").Offset((page - 1) * limit).Limit(limit).
		Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load leads")
	}
	return utils.PaginatedResponse(c, leads, page, limit, total)
}

// GetLead returns one lead.
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidLeadID)
	}
	var lead models.Lead
	if err := lc.DB.First(&lead, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, ErrLeadNotFound)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load lead")
	}
	return utils.SuccessResponse(c, lead)
}

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
	ErrInvalidAccountID   = "invalid account ID"
	ErrAccountNotFound    = "account not found"
	ErrInvalidRequestBody = "invalid request body"
)

// AccountController manages operator mailbox accounts.
type AccountController struct {
	DB     *gorm.DB
	DNS    *utils.DNSChecker
	Logger *logrus.Entry
}

func NewAccountController(db *gorm.DB, dns *utils.DNSChecker, logger *logrus.Logger) *AccountController {
	return &AccountController{
		DB:     db,
		DNS:    dns,
		Logger: logger.WithField("controller", "account"),
	}
}

type CreateAccountRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Provider string `json:"provider" validate:"required,oneof=smtp namecheap gmail outlook"`

	SMTPHost       string `json:"smtpHost" validate:"required_if=Provider smtp,required_if=Provider namecheap"`
	SMTPPort       int    `json:"smtpPort"`
	SMTPUsername   string `json:"smtpUsername"`
	SMTPPassword   string `json:"smtpPassword"`
	SMTPEncryption string `json:"smtpEncryption" validate:"omitempty,oneof=ssl tls none"`

	IMAPHost       string `json:"imapHost"`
	IMAPPort       int    `json:"imapPort"`
	IMAPUsername   string `json:"imapUsername"`
	IMAPPassword   string `json:"imapPassword"`
	IMAPEncryption string `json:"imapEncryption" validate:"omitempty,oneof=ssl tls starttls none"`

	OAuthRefreshToken string `json:"oauthRefreshToken"`

	DailyLimit     int                    `json:"dailyLimit"`
	WarmupSettings *models.WarmupSettings `json:"warmupSettings"`
}

// CreateAccount validates the configuration, encrypts credentials and
// runs a DNS report for the sending domain.
func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidRequestBody)
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	account := models.EmailAccount{
		Name:           req.Name,
		Email:          req.Email,
		Provider:       req.Provider,
		SMTPHost:       req.SMTPHost,
		SMTPPort:       req.SMTPPort,
		SMTPUsername:   req.SMTPUsername,
		SMTPPassword:   req.SMTPPassword,
		SMTPEncryption: req.SMTPEncryption,
		IMAPHost:       req.IMAPHost,
		IMAPPort:       req.IMAPPort,
		IMAPUsername:   req.IMAPUsername,
		IMAPPassword:   req.IMAPPassword,
		IMAPEncryption: req.IMAPEncryption,
		DailyLimit:     req.DailyLimit,
		LastResetDate:  time.Now(),
	}
	if account.SMTPPort == 0 {
		account.SMTPPort = 587
	}
	if account.IMAPPort == 0 {
		account.IMAPPort = 993
	}
	if account.DailyLimit == 0 {
		account.DailyLimit = 50
	}
	if req.WarmupSettings != nil {
		account.WarmupSettings = *req.WarmupSettings
	}
	account.OAuthRefreshToken = req.OAuthRefreshToken

	if err := utils.ValidateAccountConfig(&account); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	var err error
	if account.SMTPPassword != "" {
		if account.SMTPPassword, err = utils.Encrypt(account.SMTPPassword); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to secure credentials")
		}
	}
	if account.IMAPPassword != "" {
		if account.IMAPPassword, err = utils.Encrypt(account.IMAPPassword); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to secure credentials")
		}
	}
	if account.OAuthRefreshToken != "" {
		if account.OAuthRefreshToken, err = utils.Encrypt(account.OAuthRefreshToken); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to secure credentials")
		}
	}

	report, derr := ac.DNS.CheckDomain(c.Context(), account.Domain())
	if derr == nil {
		now := time.Now()
		account.DNSValid = report.Valid()
		account.DNSCheckedAt = &now
	} else {
		ac.Logger.WithField("domain", account.Domain()).WithError(derr).Warn("DNS check failed")
	}

	if err := ac.DB.Create(&account).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "account already exists or could not be saved")
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    account,
		"dns":     report,
	})
}

// GetAccounts lists accounts without credentials.
func (ac *AccountController) GetAccounts(c *fiber.Ctx) error {
	var accounts []models.EmailAccount
	if err := ac.DB.Order("id asc").Find(&accounts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load accounts")
	}
	for i := range accounts {
		accounts[i].Sanitize()
	}
	return utils.SuccessResponse(c, accounts)
}

// GetAccount returns one account.
func (ac *AccountController) GetAccount(c *fiber.Ctx) error {
	account, ferr := ac.findAccount(c)
	if account == nil {
		return ferr
	}
	account.Sanitize()
	return utils.SuccessResponse(c, account)
}

// CheckAccountDNS re-runs the DNS report on demand.
func (ac *AccountController) CheckAccountDNS(c *fiber.Ctx) error {
	account, ferr := ac.findAccount(c)
	if account == nil {
		return ferr
	}
	report, derr := ac.DNS.CheckDomain(c.Context(), account.Domain())
	if derr != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, derr.Error())
	}
	now := time.Now()
	updates := map[string]interface{}{
		"dns_valid":      report.Valid(),
		"dns_checked_at": now,
	}
	if err := ac.DB.Model(account).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to save DNS result")
	}
	return utils.SuccessResponse(c, report)
}

// DeleteAccount removes an account from rotation.
func (ac *AccountController) DeleteAccount(c *fiber.Ctx) error {
	account, ferr := ac.findAccount(c)
	if account == nil {
		return ferr
	}
	if err := ac.DB.Delete(account).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to delete account")
	}
	return utils.SuccessResponse(c, fiber.Map{"deleted": account.ID})
}

func (ac *AccountController) findAccount(c *fiber.Ctx) (*models.EmailAccount, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID)
	}
	var account models.EmailAccount
	if err := ac.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound)
		}
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load account")
	}
	return &account, nil
}

package controller

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"coldmail/models"
	"coldmail/utils"
)

const (
	ErrWarmupAlreadyRunning = "warmup is already running for this account"
	ErrWarmupNotRunning     = "warmup is not running for this account"
	ErrDNSInvalid           = "sending domain failed DNS validation"
)

// WarmupController exposes per-account warmup control.
type WarmupController struct {
	DB     *gorm.DB
	DNS    *utils.DNSChecker
	Logger *logrus.Entry
}

func NewWarmupController(db *gorm.DB, dns *utils.DNSChecker, logger *logrus.Logger) *WarmupController {
	return &WarmupController{
		DB:     db,
		DNS:    dns,
		Logger: logger.WithField("controller", "warmup"),
	}
}

// StartWarmup enables warmup for an account after a DNS gate check.
func (wc *WarmupController) StartWarmup(c *fiber.Ctx) error {
	account, ferr := wc.findAccount(c)
	if account == nil {
		return ferr
	}
	if account.WarmupStatus == models.WarmupInProgress && account.WarmupSettings.Enabled {
		return utils.ErrorResponse(c, fiber.StatusConflict, ErrWarmupAlreadyRunning)
	}

	report, err := wc.DNS.CheckDomain(c.Context(), account.Domain())
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadGateway, err.Error())
	}
	now := time.Now()
	if !report.Valid() {
		wc.DB.Model(account).Updates(map[string]interface{}{
			"dns_valid":      false,
			"dns_checked_at": now,
		})
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{
			"success": false,
			"error":   ErrDNSInvalid,
			"dns":     report,
		})
	}

	updates := map[string]interface{}{
		"warmup_enabled": true,
		"dns_valid":      true,
		"dns_checked_at": now,
	}
	// Resuming a paused warmup keeps its ramp-up anchor; a fresh start
	// begins the ramp now.
	if account.WarmupStatus == models.WarmupNotStarted || account.WarmupStatus == models.WarmupCompleted {
		updates["warmup_status"] = models.WarmupNotStarted
		updates["warmup_started_at"] = nil
	} else if account.WarmupStatus == models.WarmupPaused {
		updates["warmup_status"] = models.WarmupInProgress
	}
	if err := wc.DB.Model(account).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to start warmup")
	}

	wc.Logger.WithField("account", account.Email).Info("Warmup enabled")
	return utils.SuccessResponse(c, fiber.Map{
		"accountId": account.ID,
		"status":    account.WarmupStatus,
		"dns":       report,
	})
}

// PauseWarmup suspends warmup sends for an account.
func (wc *WarmupController) PauseWarmup(c *fiber.Ctx) error {
	account, ferr := wc.findAccount(c)
	if account == nil {
		return ferr
	}
	if account.WarmupStatus != models.WarmupInProgress && account.WarmupStatus != models.WarmupNotStarted {
		return utils.ErrorResponse(c, fiber.StatusConflict, ErrWarmupNotRunning)
	}
	if err := wc.DB.Model(account).Update("warmup_status", models.WarmupPaused).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to pause warmup")
	}
	wc.Logger.WithField("account", account.Email).Info("Warmup paused")
	return utils.SuccessResponse(c, fiber.Map{
		"accountId": account.ID,
		"status":    models.WarmupPaused,
	})
}

// ResumeWarmup continues a paused warmup.
func (wc *WarmupController) ResumeWarmup(c *fiber.Ctx) error {
	account, ferr := wc.findAccount(c)
	if account == nil {
		return ferr
	}
	if account.WarmupStatus != models.WarmupPaused {
		return utils.ErrorResponse(c, fiber.StatusConflict, ErrWarmupNotRunning)
	}
	if err := wc.DB.Model(account).Update("warmup_status", models.WarmupInProgress).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to resume warmup")
	}
	return utils.SuccessResponse(c, fiber.Map{
		"accountId": account.ID,
		"status":    models.WarmupInProgress,
	})
}

// GetWarmupStatus reports the current warmup posture of an account.
func (wc *WarmupController) GetWarmupStatus(c *fiber.Ctx) error {
	account, ferr := wc.findAccount(c)
	if account == nil {
		return ferr
	}
	return utils.SuccessResponse(c, fiber.Map{
		"accountId":       account.ID,
		"status":          account.WarmupStatus,
		"reputation":      account.Reputation,
		"startedAt":       account.WarmupStartedAt,
		"sentToday":       account.WarmupSentToday,
		"totalSent":       account.WarmupTotalSent,
		"settings":        account.WarmupSettings,
		"dnsValid":     account.DNSValid,
		"dnsCheckedAt": account.DNSCheckedAt,
	})
}

// GetWarmupStats aggregates warmup outcomes for an account. Counts run
// in parallel, one goroutine per aggregate.
func (wc *WarmupController) GetWarmupStats(c *fiber.Ctx) error {
	account, ferr := wc.findAccount(c)
	if account == nil {
		return ferr
	}

	var sent, opened, replied, failed, spam int64
	var wg sync.WaitGroup

	count := func(dst *int64, statuses []string) {
		defer wg.Done()
		wc.DB.Model(&models.WarmupEmail{}).
			Where("from_account_id = ? AND status IN ?", account.ID, statuses).
			Count(dst)
	}

	wg.Add(5)
	go count(&sent, []string{models.WarmupEmailSent, models.WarmupEmailOpened, models.WarmupEmailReplied})
	go count(&opened, []string{models.WarmupEmailOpened, models.WarmupEmailReplied})
	go count(&replied, []string{models.WarmupEmailReplied})
	go count(&failed, []string{models.WarmupEmailFailed})
	go count(&spam, []string{models.WarmupEmailSpam})
	wg.Wait()

	var openRate, replyRate float64
	if sent > 0 {
		openRate = float64(opened) / float64(sent) * 100
		replyRate = float64(replied) / float64(sent) * 100
	}

	return utils.SuccessResponse(c, fiber.Map{
		"accountId":  account.ID,
		"reputation": account.Reputation,
		"sent":       sent,
		"opened":     opened,
		"replied":    replied,
		"failed":     failed,
		"spam":       spam,
		"openRate":   openRate,
		"replyRate":  replyRate,
	})
}

func (wc *WarmupController) findAccount(c *fiber.Ctx) (*models.EmailAccount, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return nil, utils.ErrorResponse(c, fiber.StatusBadRequest, ErrInvalidAccountID)
	}
	var account models.EmailAccount
	if err := wc.DB.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorResponse(c, fiber.StatusNotFound, ErrAccountNotFound)
		}
		return nil, utils.ErrorResponse(c, fiber.StatusInternalServerError, "failed to load account")
	}
	return &account, nil
}

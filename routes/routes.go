package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "coldmail/controllers"
	"coldmail/utils"
)

// Deps carries everything route handlers need.
type Deps struct {
	DB     *gorm.DB
	Mailer *utils.Mailer
	Warmup *utils.WarmupMailer
	DNS    *utils.DNSChecker
	Logger *logrus.Logger
}

// Setup registers the engine API.
func Setup(app *fiber.App, deps Deps) {
	accounts := controller.NewAccountController(deps.DB, deps.DNS, deps.Logger)
	warmup := controller.NewWarmupController(deps.DB, deps.DNS, deps.Logger)
	campaigns := controller.NewCampaignController(deps.DB, deps.Logger)
	leads := controller.NewLeadController(deps.DB, deps.Logger)
	unibox := controller.NewUniboxController(deps.DB, deps.Mailer, deps.Warmup, deps.Logger)
	tracking := controller.NewTrackingController(deps.DB, deps.Logger)

	api := app.Group("/api/v1")

	account := api.Group("/accounts")
	account.Post("/", accounts.CreateAccount)
	account.Get("/", accounts.GetAccounts)
	account.Get("/:id", accounts.GetAccount)
	account.Delete("/:id", accounts.DeleteAccount)
	account.Post("/:id/dns-check", accounts.CheckAccountDNS)
	account.Post("/:id/warmup/start", warmup.StartWarmup)
	account.Post("/:id/warmup/pause", warmup.PauseWarmup)
	account.Post("/:id/warmup/resume", warmup.ResumeWarmup)
	account.Get("/:id/warmup/status", warmup.GetWarmupStatus)
	account.Get("/:id/warmup/stats", warmup.GetWarmupStats)

	campaign := api.Group("/campaigns")
	campaign.Post("/", campaigns.CreateCampaign)
	campaign.Get("/", campaigns.GetCampaigns)
	campaign.Get("/:id", campaigns.GetCampaign)
	campaign.Post("/:id/leads", campaigns.AddLeads)
	campaign.Post("/:id/start", campaigns.StartCampaign)
	campaign.Post("/:id/pause", campaigns.PauseCampaign)
	campaign.Get("/:id/stats", campaigns.GetCampaignStats)

	// Websocket progress stream; upgrade is gated the fiber way.
	campaign.Use("/:id/progress", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	campaign.Get("/:id/progress", websocket.New(controller.CampaignProgressWS(deps.DB, deps.Logger)))

	lead := api.Group("/leads")
	lead.Post("/", leads.CreateLeads)
	lead.Get("/", leads.GetLeads)
	lead.Get("/:id", leads.GetLead)

	inbox := api.Group("/unibox")
	inbox.Get("/", unibox.GetMessages)
	inbox.Get("/thread/:threadId", unibox.GetThread)
	inbox.Patch("/:id", unibox.UpdateMessage)
	inbox.Post("/:id/reply", unibox.ReplyMessage)
	inbox.Post("/:id/spam", unibox.MarkSpam)

	// Public tracking endpoints, outside the API group.
	app.Get("/track/open/:token", tracking.TrackOpen)
	app.Get("/track/click/:token", tracking.TrackClick)
	app.Get("/unsubscribe/:token", tracking.Unsubscribe)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

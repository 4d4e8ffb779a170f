package utils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"coldmail/config"
	"coldmail/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.EmailAccount{},
		&models.Campaign{},
		&models.SequenceStep{},
		&models.Lead{},
		&models.CampaignLead{},
		&models.WarmupEmail{},
		&models.InboxMessage{},
		&models.InboxSync{},
		&models.BlacklistEntry{},
		&models.EmailLog{},
	))
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func configureTestSecrets(t *testing.T) {
	t.Helper()
	if config.AppConfig == nil {
		config.AppConfig = &config.Config{
			EncryptionKey: "unit-test-encryption-secret",
			BaseURL:       "http://localhost:8080",
		}
	}
}

func encrypted(t *testing.T, plain string) string {
	t.Helper()
	configureTestSecrets(t)
	out, err := Encrypt(plain)
	require.NoError(t, err)
	return out
}

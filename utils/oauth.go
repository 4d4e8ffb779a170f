package utils

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"coldmail/config"
	"coldmail/models"
)

var microsoftEndpoint = oauth2.Endpoint{
	AuthURL:  "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
	TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
}

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// oauthConfig builds the provider config for an account.
func oauthConfig(account *models.EmailAccount) (*oauth2.Config, error) {
	cfg := config.AppConfig
	switch account.Provider {
	case "gmail":
		return &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     googleEndpoint,
			Scopes:       []string{"https://mail.google.com/"},
		}, nil
	case "outlook":
		return &oauth2.Config{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			Endpoint:     microsoftEndpoint,
			Scopes: []string{
				"https://outlook.office.com/SMTP.Send",
				"https://outlook.office.com/IMAP.AccessAsUser.All",
				"offline_access",
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: provider %q does not use oauth", ErrConfiguration, account.Provider)
	}
}

// RefreshAccessToken exchanges the stored (encrypted) refresh token for
// a fresh access token. A rejected refresh token is an auth failure.
func RefreshAccessToken(ctx context.Context, account *models.EmailAccount) (string, error) {
	conf, err := oauthConfig(account)
	if err != nil {
		return "", err
	}
	refreshToken, err := Decrypt(account.OAuthRefreshToken)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return token.AccessToken, nil
}

package auth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// OneDriveScopes are requested for Microsoft Graph file access.
var OneDriveScopes = []string{
	"offline_access",
	"Files.ReadWrite.All",
	"User.Read",
}

// GoogleDriveScopes grants full Drive access.
var GoogleDriveScopes = []string{
	"https://www.googleapis.com/auth/drive",
}

// OneDriveConfig builds the OAuth2 config for a Microsoft public client.
// Public clients have no secret; PKCE protects the code exchange.
func OneDriveConfig(clientID, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    clientID,
		Scopes:      OneDriveScopes,
		Endpoint:    microsoft.AzureADEndpoint("common"),
		RedirectURL: redirectURL,
	}
}

// GoogleDriveConfig builds the OAuth2 config for a Google desktop client.
func GoogleDriveConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       GoogleDriveScopes,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
	}
}

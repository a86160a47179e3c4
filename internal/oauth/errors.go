package oauth

import (
	"encoding/json"
	"errors"

	"golang.org/x/oauth2"
)

// OAuthError is a user-presentable authorization failure. Message never
// contains credentials or upstream response text.
type OAuthError struct {
	Code    string
	Message string
}

func (e *OAuthError) Error() string { return e.Message }

// friendlyMessages is the closed table of platform error codes we translate.
// Anything outside it gets the generic message.
var friendlyMessages = map[string]string{
	"invalid_code":          "The authorization code is invalid. Please restart the installation.",
	"code_already_used":     "This authorization code was already used. Please restart the installation.",
	"invalid_client_id":     "The application is misconfigured (client id). Contact your administrator.",
	"invalid_client_secret": "The application is misconfigured (client secret). Contact your administrator.",
	"invalid_redirect_uri":  "The redirect URL does not match the application configuration.",
	"invalid_grant_type":    "The authorization request used an unsupported grant type.",
	"invalid_refresh_token": "The stored credentials have expired. Please reinstall the application.",
	"token_revoked":         "Access was revoked for this workspace. Please reinstall the application.",
	"access_denied":         "Authorization was cancelled.",
}

const genericAuthMessage = "Authorization failed. Please try again."

// mapPlatformError converts a token-endpoint failure into an OAuthError,
// extracting the platform error code when the response carries one.
func mapPlatformError(err error) *OAuthError {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" {
			var body struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(re.Body, &body) == nil {
				code = body.Error
			}
		}
		if msg, ok := friendlyMessages[code]; ok {
			return &OAuthError{Code: code, Message: msg}
		}
		return &OAuthError{Code: code, Message: genericAuthMessage}
	}
	return &OAuthError{Message: genericAuthMessage}
}

// Package mail delivers password reset links to users.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"strconv"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
)

// Notifier delivers the reset link for token to the user at address to.
type Notifier interface {
	SendPasswordReset(ctx context.Context, to string, userID int64, token, displayName string) error
}

// ResetLink builds the frontend URL a user follows to redeem a reset token.
// frontendURL is used as a prefix, so it normally ends with "/".
func ResetLink(frontendURL string, userID int64, token string) string {
	q := url.Values{}
	q.Set("id", strconv.FormatInt(userID, 10))
	q.Set("token", token)
	return frontendURL + "auth/change-password/?" + q.Encode()
}

// Subject is the reset mail subject line.
func Subject(appName string) string {
	return appName + " - Password reset"
}

var resetTemplate = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<p>Hey {{.Name}},<br>
<br>
please follow this link to reset your password for {{.AppName}}:</p>
<p><a href="{{.Link}}" style="display: inline-block; padding: 10px 18px; background: #2f6fed; color: #ffffff; text-decoration: none; border-radius: 4px;">Reset password</a></p>
<p>This link is valid for one hour.</p>
</body>
</html>
`))

type resetData struct {
	Name    string
	AppName string
	Link    string
}

// RenderReset renders the HTML body of the reset mail.
func RenderReset(appName, displayName, link string) (string, error) {
	var buf bytes.Buffer
	if err := resetTemplate.Execute(&buf, resetData{Name: displayName, AppName: appName, Link: link}); err != nil {
		return "", fmt.Errorf("render reset mail: %w", err)
	}
	return buf.String(), nil
}

// LogNotifier writes the reset link to the log instead of sending mail.
// It is used when no SMTP host is configured.
type LogNotifier struct {
	logger      logging.Logger
	frontendURL string
}

func NewLogNotifier(logger logging.Logger, frontendURL string) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "mail"), frontendURL: frontendURL}
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, to string, userID int64, token, displayName string) error {
	n.logger.Info(ctx, "password reset mail not sent, SMTP disabled",
		"to", to, "name", displayName, "link", ResetLink(n.frontendURL, userID, token))
	return nil
}

package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
)

// Confirmation is a confirmation code ready for delivery.
type Confirmation struct {
	IdentityID uuid.UUID
	Email      string
	Code       string
}

// Outbox delivers account emails. Delivery is best effort: callers log
// failures and carry on.
type Outbox interface {
	SendConfirmation(ctx context.Context, c Confirmation) error
}

// LogOutbox writes confirmation links to the structured log instead of
// sending mail. It stands in for a real mail relay in development.
type LogOutbox struct {
	baseURL string
	logger  *slog.Logger
}

// NewLogOutbox creates a LogOutbox that builds links from baseURL.
func NewLogOutbox(baseURL string, logger *slog.Logger) *LogOutbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogOutbox{baseURL: baseURL, logger: logger}
}

// SendConfirmation logs the confirmation link for c.
func (o *LogOutbox) SendConfirmation(ctx context.Context, c Confirmation) error {
	link, err := ConfirmationLink(o.baseURL, c.IdentityID, c.Code)
	if err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "email confirmation issued",
		"identityId", c.IdentityID,
		"email", c.Email,
		"link", link,
	)
	return nil
}

// ConfirmationLink appends userId and code query parameters to baseURL.
func ConfirmationLink(baseURL string, identityID uuid.UUID, code string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing confirmation url: %w", err)
	}
	q := u.Query()
	q.Set("userId", identityID.String())
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

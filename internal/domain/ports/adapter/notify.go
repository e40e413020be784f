package adapter

import "context"

// NotificationSender delivers an attendee notification. The transport (push,
// mail, SMS) lives outside this module; the core only hands over rendered
// text. Send failures are recorded by the caller and never abort anything.
type NotificationSender interface {
	Send(ctx context.Context, userID, subject, body string) error
}

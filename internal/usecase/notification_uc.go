package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"ticketing-refund-core/internal/domain/model"
	"ticketing-refund-core/internal/domain/ports/adapter"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// NotificationUseCase renders and sends attendee notifications for a
// cancellation. It must never fail the pipeline: delivery errors are counted
// and reported, nothing more.
type NotificationUseCase interface {
	// NotifyAttendees sends one notification per affected ticket and returns
	// (sent, failed) counts plus a per-ticket list of failures.
	NotifyAttendees(ctx context.Context, event *model.Event, plan model.CompensationPlan, tickets []*model.Ticket) (int, int, []model.CancellationProcessingError)
	// Preview renders the notification for display before confirmation.
	Preview(event *model.Event, plan model.CompensationPlan, samplePrice int64) (subject, body string)
}

type notificationUC struct {
	sender  adapter.NotificationSender
	subject string
	body    string
	log     *zerolog.Logger
}

func NewNotificationUseCase(sender adapter.NotificationSender, subjectTemplate, bodyTemplate string, logger *zerolog.Logger) *notificationUC {
	return &notificationUC{sender: sender, subject: subjectTemplate, body: bodyTemplate, log: logger}
}

func (n *notificationUC) NotifyAttendees(ctx context.Context, event *model.Event, plan model.CompensationPlan, tickets []*model.Ticket) (int, int, []model.CancellationProcessingError) {
	var sent, failed int
	var errs []model.CancellationProcessingError
	for _, t := range tickets {
		subject, body := n.render(event, plan, t.Price, t.Currency)
		if err := n.sender.Send(ctx, t.UserID, subject, body); err != nil {
			failed++
			errs = append(errs, model.CancellationProcessingError{
				TicketID:  t.ID,
				ErrorType: model.ErrorTypeNotificationFailed,
				Message:   err.Error(),
			})
			n.log.Warn().Err(err).Str("ticket_id", t.ID).Msg("attendee notification failed")
			continue
		}
		sent++
	}
	return sent, failed, errs
}

func (n *notificationUC) Preview(event *model.Event, plan model.CompensationPlan, samplePrice int64) (string, string) {
	return n.render(event, plan, samplePrice, "")
}

// render substitutes the {{event}}, {{amount}} and {{percentage}}
// placeholders. Unknown placeholders pass through untouched.
func (n *notificationUC) render(event *model.Event, plan model.CompensationPlan, price int64, currency string) (string, string) {
	amount := model.ApplyPercentage(price, plan.Percentage)
	r := strings.NewReplacer(
		"{{event}}", event.Name,
		"{{amount}}", formatAmount(amount, currency),
		"{{percentage}}", strconv.FormatFloat(plan.Percentage, 'f', -1, 64),
	)
	return r.Replace(n.subject), r.Replace(n.body)
}

func formatAmount(amount int64, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%d", amount)
	}
	return fmt.Sprintf("%d %s", amount, currency)
}

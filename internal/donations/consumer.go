package donations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/metrics"
)

// ApprovalsConsumerName namespaces the idempotency keys of approval events.
const ApprovalsConsumerName = "donation-approvals"

// ApprovalEvent is published by the external approval workflow.
type ApprovalEvent struct {
	DonationEventID string          `json:"donation_event_id"`
	UserID          string          `json:"user_id"`
	Kg              decimal.Decimal `json:"kg"`
	ApproverID      string          `json:"approver_id,omitempty"`
}

// DecodeApprovalEvent parses a message body.
func DecodeApprovalEvent(data []byte) (ApprovalEvent, error) {
	var event ApprovalEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return ApprovalEvent{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode approval event")
	}
	return event, nil
}

type idempotencyChecker interface {
	IsProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) error
}

type creditor interface {
	CreditForDonation(ctx context.Context, input ledger.CreditInput) (*models.ActivityRecord, error)
}

// Consumer credits donations approved outside this service.
type Consumer struct {
	ledger  creditor
	manager idempotencyChecker
	logg    *logger.Logger
	metrics *metrics.Rewards
}

// NewConsumer builds an approval consumer.
func NewConsumer(ledger creditor, manager idempotencyChecker, logg *logger.Logger, m *metrics.Rewards) (*Consumer, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{ledger: ledger, manager: manager, logg: logg, metrics: m}, nil
}

// Process credits the event once. Errors for which IsPermanent is true will
// fail again on redelivery. The Redis marker is only a shortcut for events
// already credited; the ledger's unique donation event id is what keeps a
// redelivered event from crediting twice.
func (c *Consumer) Process(ctx context.Context, event ApprovalEvent) error {
	eventID := strings.TrimSpace(event.DonationEventID)
	logCtx := c.logg.WithDonationEventID(c.logg.WithUserID(ctx, event.UserID), eventID)

	if eventID == "" {
		c.metrics.IncConsumerEvent("invalid")
		return pkgerrors.New(pkgerrors.CodeValidation, "donation event id missing")
	}

	processed, err := c.manager.IsProcessed(ctx, ApprovalsConsumerName, eventID)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "idempotency marker unreadable, crediting through the ledger")
	}
	if processed {
		c.metrics.IncConsumerEvent("duplicate")
		c.logg.Info(logCtx, "approval event already processed")
		return nil
	}

	if _, err := c.ledger.CreditForDonation(ctx, ledger.CreditInput{
		DonationEventID: eventID,
		UserID:          event.UserID,
		Kg:              event.Kg,
		ApproverID:      event.ApproverID,
	}); err != nil {
		c.logg.Error(logCtx, "failed to credit approval event", err)
		if IsPermanent(err) {
			c.metrics.IncConsumerEvent("invalid")
		} else {
			c.metrics.IncConsumerEvent("failed")
		}
		return err
	}

	// The credit is committed; a shutdown must not skip the marker.
	if err := c.manager.MarkProcessed(context.WithoutCancel(ctx), ApprovalsConsumerName, eventID); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "failed to mark approval event processed")
	}

	c.metrics.IncConsumerEvent("credited")
	c.logg.Info(logCtx, "approval event credited")
	return nil
}

// Handle processes a raw message body and reports whether it should be acked.
// Malformed and permanently invalid events are acked so they are not redelivered.
func (c *Consumer) Handle(ctx context.Context, data []byte) bool {
	event, err := DecodeApprovalEvent(data)
	if err != nil {
		c.metrics.IncConsumerEvent("invalid")
		c.logg.Error(ctx, "dropping undecodable approval event", err)
		return true
	}
	if err := c.Process(ctx, event); err != nil {
		return IsPermanent(err)
	}
	return true
}

// IsPermanent reports whether err will not clear up on retry.
func IsPermanent(err error) bool {
	return !pkgerrors.IsRetryable(err)
}

package donations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ecobricks/rewards-backend/internal/ledger"
	"github.com/ecobricks/rewards-backend/pkg/db/models"
	pkgerrors "github.com/ecobricks/rewards-backend/pkg/errors"
	"github.com/ecobricks/rewards-backend/pkg/idempotency"
	"github.com/ecobricks/rewards-backend/pkg/logger"
	"github.com/ecobricks/rewards-backend/pkg/redis"
)

type fakeIdempotency struct {
	check  func(ctx context.Context, consumer, eventID string) (bool, error)
	markFn func(ctx context.Context, consumer, eventID string) error
}

func (f fakeIdempotency) IsProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	return f.check(ctx, consumer, eventID)
}

func (f fakeIdempotency) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	if f.markFn == nil {
		return nil
	}
	return f.markFn(ctx, consumer, eventID)
}

type fakeCreditor struct {
	inputs []ledger.CreditInput
	err    error
	// failures is how many leading calls fail with err before succeeding.
	failures int
}

func (f *fakeCreditor) CreditForDonation(_ context.Context, input ledger.CreditInput) (*models.ActivityRecord, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil && (f.failures == 0 || len(f.inputs) <= f.failures) {
		return nil, f.err
	}
	return &models.ActivityRecord{UserID: input.UserID}, nil
}

// flakyStore fails writes and deletes on demand.
type flakyStore struct {
	*redis.MemoryStore
	failWrites bool
}

func (f *flakyStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.failWrites {
		return false, context.DeadlineExceeded
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return f.MemoryStore.SetNX(ctx, key, value, ttl)
}

func (f *flakyStore) Del(context.Context, ...string) error {
	return context.DeadlineExceeded
}

func realManager(t *testing.T, store *flakyStore) *idempotency.Manager {
	t.Helper()
	manager, err := idempotency.NewManager(store, time.Hour)
	require.NoError(t, err)
	return manager
}

func notSeen(context.Context, string, string) (bool, error) { return false, nil }

func mustConsumer(t *testing.T, credit creditor, manager idempotencyChecker) *Consumer {
	t.Helper()
	consumer, err := NewConsumer(credit, manager, logger.Nop(), nil)
	require.NoError(t, err)
	return consumer
}

func TestDecodeApprovalEvent(t *testing.T) {
	event, err := DecodeApprovalEvent([]byte(`{"donation_event_id":"evt-1","user_id":"user-1","kg":"3.2"}`))
	require.NoError(t, err)
	require.Equal(t, "evt-1", event.DonationEventID)
	require.True(t, event.Kg.Equal(decimal.RequireFromString("3.2")))

	numeric, err := DecodeApprovalEvent([]byte(`{"donation_event_id":"evt-2","user_id":"u","kg":1.5}`))
	require.NoError(t, err)
	require.True(t, numeric.Kg.Equal(decimal.RequireFromString("1.5")))

	_, err = DecodeApprovalEvent([]byte(`{not json`))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConsumerCreditsNewEvent(t *testing.T) {
	credit := &fakeCreditor{}
	var consumerName string
	consumer := mustConsumer(t, credit, fakeIdempotency{check: func(_ context.Context, consumer, _ string) (bool, error) {
		consumerName = consumer
		return false, nil
	}})

	err := consumer.Process(context.Background(), ApprovalEvent{DonationEventID: "evt-1", UserID: "user-1", Kg: decimal.NewFromInt(2)})
	require.NoError(t, err)
	require.Equal(t, ApprovalsConsumerName, consumerName)
	require.Len(t, credit.inputs, 1)
	require.Equal(t, "evt-1", credit.inputs[0].DonationEventID)
}

func TestConsumerSkipsProcessedEvent(t *testing.T) {
	credit := &fakeCreditor{}
	consumer := mustConsumer(t, credit, fakeIdempotency{check: func(context.Context, string, string) (bool, error) {
		return true, nil
	}})

	err := consumer.Process(context.Background(), ApprovalEvent{DonationEventID: "evt-1", UserID: "user-1", Kg: decimal.NewFromInt(2)})
	require.NoError(t, err)
	require.Empty(t, credit.inputs)
}

func TestConsumerLeavesNoMarkerOnFailure(t *testing.T) {
	credit := &fakeCreditor{err: pkgerrors.New(pkgerrors.CodeUnavailable, "db down")}
	marked := false
	consumer := mustConsumer(t, credit, fakeIdempotency{
		check: notSeen,
		markFn: func(context.Context, string, string) error {
			marked = true
			return nil
		},
	})

	err := consumer.Process(context.Background(), ApprovalEvent{DonationEventID: "evt-1", UserID: "user-1", Kg: decimal.NewFromInt(2)})
	require.Error(t, err)
	require.False(t, marked)
	require.False(t, IsPermanent(err))
}

func TestConsumerRedeliveryCreditsAfterTransientFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: redis.NewMemoryStore()}
	credit := &fakeCreditor{err: pkgerrors.New(pkgerrors.CodeUnavailable, "db down"), failures: 1}
	consumer := mustConsumer(t, credit, realManager(t, store))
	body := []byte(`{"donation_event_id":"evt-9","user_id":"user-1","kg":"2"}`)

	require.False(t, consumer.Handle(context.Background(), body))
	require.Len(t, credit.inputs, 1)

	require.True(t, consumer.Handle(context.Background(), body))
	require.Len(t, credit.inputs, 2)

	// Marked once the credit is committed, so a third delivery is skipped.
	require.True(t, consumer.Handle(context.Background(), body))
	require.Len(t, credit.inputs, 2)
}

func TestConsumerMarkerWriteFailureStillAcks(t *testing.T) {
	store := &flakyStore{MemoryStore: redis.NewMemoryStore(), failWrites: true}
	credit := &fakeCreditor{}
	consumer := mustConsumer(t, credit, realManager(t, store))
	body := []byte(`{"donation_event_id":"evt-9","user_id":"user-1","kg":"2"}`)

	require.True(t, consumer.Handle(context.Background(), body))
	// Without a marker the redelivery reaches the ledger, which replays.
	require.True(t, consumer.Handle(context.Background(), body))
	require.Len(t, credit.inputs, 2)
}

func TestConsumerMarksAfterCanceledContext(t *testing.T) {
	store := &flakyStore{MemoryStore: redis.NewMemoryStore()}
	manager := realManager(t, store)
	consumer := mustConsumer(t, &fakeCreditor{}, manager)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, consumer.Process(ctx, ApprovalEvent{DonationEventID: "evt-3", UserID: "user-1", Kg: decimal.NewFromInt(1)}))

	processed, err := manager.IsProcessed(context.Background(), ApprovalsConsumerName, "evt-3")
	require.NoError(t, err)
	require.True(t, processed)
}

func TestConsumerReportsPermanentFailures(t *testing.T) {
	credit := &fakeCreditor{err: pkgerrors.New(pkgerrors.CodeConflict, "other user")}
	consumer := mustConsumer(t, credit, fakeIdempotency{check: notSeen})

	err := consumer.Process(context.Background(), ApprovalEvent{DonationEventID: "evt-1", UserID: "user-2", Kg: decimal.NewFromInt(2)})
	require.True(t, IsPermanent(err))

	err = consumer.Process(context.Background(), ApprovalEvent{UserID: "user-2", Kg: decimal.NewFromInt(2)})
	require.True(t, IsPermanent(err))
}

func TestConsumerUnreadableMarkerFallsThroughToLedger(t *testing.T) {
	credit := &fakeCreditor{}
	consumer := mustConsumer(t, credit, fakeIdempotency{check: func(context.Context, string, string) (bool, error) {
		return false, errors.New("redis down")
	}})

	err := consumer.Process(context.Background(), ApprovalEvent{DonationEventID: "evt-1", UserID: "user-1", Kg: decimal.NewFromInt(2)})
	require.NoError(t, err)
	require.Len(t, credit.inputs, 1)
}

func TestNewConsumerValidates(t *testing.T) {
	_, err := NewConsumer(nil, fakeIdempotency{check: notSeen}, logger.Nop(), nil)
	require.Error(t, err)
	_, err = NewConsumer(&fakeCreditor{}, nil, logger.Nop(), nil)
	require.Error(t, err)
}

func TestConsumerHandleAckDecision(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		creditErr error
		wantAck   bool
	}{
		{name: "credited", body: `{"donation_event_id":"evt-1","user_id":"user-1","kg":"2"}`, wantAck: true},
		{name: "malformed body", body: `{oops`, wantAck: true},
		{name: "missing event id", body: `{"user_id":"user-1","kg":"2"}`, wantAck: true},
		{name: "invalid kg", body: `{"donation_event_id":"evt-1","user_id":"user-1","kg":"-1"}`,
			creditErr: pkgerrors.New(pkgerrors.CodeValidation, "kg must be positive"), wantAck: true},
		{name: "store down", body: `{"donation_event_id":"evt-1","user_id":"user-1","kg":"2"}`,
			creditErr: pkgerrors.New(pkgerrors.CodeUnavailable, "db down"), wantAck: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer := mustConsumer(t, &fakeCreditor{err: tt.creditErr}, fakeIdempotency{check: notSeen})
			require.Equal(t, tt.wantAck, consumer.Handle(context.Background(), []byte(tt.body)))
		})
	}
}

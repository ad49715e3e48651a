package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/edupass/internal/config"
	"github.com/smallbiznis/edupass/internal/events"
	"github.com/smallbiznis/edupass/internal/redemption/domain"
	"github.com/smallbiznis/edupass/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, evt events.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func TestRedeemIgnoresPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.pay(t, adaID, 2)
	session := f.start(t, "09:00")
	raw := f.studentToken(t, adaID)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(evt events.Event) bool {
		return evt.Type == events.TypeAttendanceRecorded
	})).Return(errors.New("queue down")).Once()

	engine := f.newEngine(t, config.DefaultPolicy(), pub)

	res, err := engine.Redeem(context.Background(), testkit.Teacher, domain.RedeemRequest{
		Token:          raw,
		GroupSessionID: session.Session.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CreditsRemaining)
	pub.AssertExpectations(t)
	f.assertConsistent(t, adaID)
}

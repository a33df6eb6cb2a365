package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nfrund/duochat/internal/connection"
	"github.com/nfrund/duochat/internal/delivery"
	"github.com/nfrund/duochat/internal/domain"
	"github.com/nfrund/duochat/internal/domain/mocks"
	"github.com/nfrund/duochat/internal/presence"
	"github.com/nfrund/duochat/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newFixture(t *testing.T) (*Service, *presence.Registry, domain.Store) {
	t.Helper()
	store := testutils.NewBadgerStore(t)
	testutils.SeedUsers(t, store, "alice", "bob")
	reg := presence.NewRegistry(nil)
	svc := NewService(store, store, delivery.NewRouter(reg, nil), nil)
	return svc, reg, store
}

func connect(t *testing.T, reg *presence.Registry, userID string) *testutils.Transport {
	t.Helper()
	tr := &testutils.Transport{}
	c := connection.New(tr, connection.Options{})
	t.Cleanup(func() { c.Close(connection.ReasonNormal, "test done") })
	require.NoError(t, c.Bind(userID))
	require.NoError(t, reg.Register(context.Background(), userID, c))
	return tr
}

func drain(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
}

func pushedMessages(t *testing.T, tr *testutils.Transport) []domain.Message {
	t.Helper()
	var out []domain.Message
	for _, raw := range tr.Frames() {
		var f delivery.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, *f.Message)
	}
	return out
}

func TestService_SendReceiverOffline(t *testing.T) {
	svc, reg, _ := newFixture(t)
	alice := connect(t, reg, "1")

	msg, err := svc.Send(context.Background(), "1", "2", "hi")
	require.NoError(t, err)
	drain(t, svc)

	pushed := pushedMessages(t, alice)
	require.Len(t, pushed, 1)
	assert.Equal(t, msg.ID, pushed[0].ID)

	history, err := svc.History(context.Background(), "2", "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)
}

func TestService_SendFansOutToEverySession(t *testing.T) {
	svc, reg, _ := newFixture(t)
	transports := []*testutils.Transport{
		connect(t, reg, "1"), connect(t, reg, "1"),
		connect(t, reg, "2"), connect(t, reg, "2"),
	}

	_, err := svc.Send(context.Background(), "1", "2", "hello")
	require.NoError(t, err)
	drain(t, svc)

	for _, tr := range transports {
		pushed := pushedMessages(t, tr)
		require.Len(t, pushed, 1)
		assert.Equal(t, "hello", pushed[0].Content)
	}
}

func TestService_SequentialSendsArriveInOrder(t *testing.T) {
	svc, reg, _ := newFixture(t)
	bob := connect(t, reg, "2")

	m1, err := svc.Send(context.Background(), "1", "2", "first")
	require.NoError(t, err)
	m2, err := svc.Send(context.Background(), "2", "1", "second")
	require.NoError(t, err)
	drain(t, svc)

	pushed := pushedMessages(t, bob)
	require.Len(t, pushed, 2)
	assert.Equal(t, []uint64{m1.ID, m2.ID}, []uint64{pushed[0].ID, pushed[1].ID})
}

func TestService_SendValidation(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.Send(context.Background(), "", "2", "hi")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Send(context.Background(), "1", "2", "")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.Send(context.Background(), "1", "99", "hi")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_StoreFailureSkipsDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	messages := mocks.NewMockMessageStore(ctrl)
	users := mocks.NewMockUserStore(ctrl)
	messages.EXPECT().
		Append(gomock.Any(), "1", "2", "hi").
		Return(nil, domain.Unavailable("store.append", errors.New("disk full")))

	reg := presence.NewRegistry(nil)
	tr := connect(t, reg, "1")
	svc := NewService(messages, users, delivery.NewRouter(reg, nil), nil)

	_, err := svc.Send(context.Background(), "1", "2", "hi")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	drain(t, svc)
	assert.Empty(t, tr.Frames())
}

func TestService_GetUserMissingIsNil(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserStore(ctrl)
	users.EXPECT().GetUser(gomock.Any(), "42").Return(nil, domain.NotFoundf("store.get_user", "user 42 not found"))

	svc := NewService(mocks.NewMockMessageStore(ctrl), users, delivery.NewRouter(presence.NewRegistry(nil), nil), nil)

	u, err := svc.GetUser(context.Background(), "42")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestService_EnsureUsers(t *testing.T) {
	svc, _, _ := newFixture(t)

	users, err := svc.EnsureUsers(context.Background(), []string{"alice", "carol"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "1", users[0].ID)
	assert.Equal(t, "carol", users[1].Username)

	all, err := svc.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

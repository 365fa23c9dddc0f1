package service_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pollchat/internal/domain"
	"pollchat/internal/service"
	"pollchat/internal/store/sqlite"
)

type MockPermissions struct {
	mock.Mock
}

func (m *MockPermissions) CanMessage(ctx context.Context, senderID, receiverID int64) (bool, error) {
	args := m.Called(ctx, senderID, receiverID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPermissions) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	args := m.Called(ctx, groupID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockPermissions) GroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

type MockFileRemover struct {
	mock.Mock
}

func (m *MockFileRemover) Remove(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Set(t time.Time) { c.t = t }

type fixture struct {
	db    *sql.DB
	store *sqlite.Store
	perms *MockPermissions
	files *MockFileRemover
	clock *testClock

	messages      *service.MessageService
	feed          *service.FeedService
	conversations *service.ConversationService
}

func base() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

func newFixture(t *testing.T, mode service.RecallMode, limits service.Limits) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	clock := &testClock{t: base()}
	store := sqlite.NewStore(db, sqlite.WithClock(clock.Now))
	perms := new(MockPermissions)
	files := new(MockFileRemover)
	policy := service.NewRecallPolicy(2*time.Minute, mode).WithClock(clock.Now)
	log := zerolog.Nop()

	return &fixture{
		db:            db,
		store:         store,
		perms:         perms,
		files:         files,
		clock:         clock,
		messages:      service.NewMessageService(store, perms, files, policy, limits, log),
		feed:          service.NewFeedService(store, perms, limits, log),
		conversations: service.NewConversationService(store, perms, log),
	}
}

// allowFriends lets every pair of distinct users message each other.
func (f *fixture) allowFriends() {
	f.perms.On("CanMessage", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
}

func (f *fixture) sendText(t *testing.T, from, to int64, text string) *domain.Message {
	t.Helper()
	m, err := f.messages.Send(context.Background(), from, service.SendInput{
		ChatType: domain.ChatFriend,
		ChatID:   to,
		Content:  text,
	})
	require.NoError(t, err)
	return m
}

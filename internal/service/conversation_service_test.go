package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pollchat/internal/domain"
	"pollchat/internal/service"
)

func TestAcknowledge_FriendResetsEverythingTogether(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	f.sendText(t, 1, 2, "a")
	f.sendText(t, 1, 2, "b")
	f.sendText(t, 3, 2, "other peer")

	require.NoError(t, f.conversations.Acknowledge(ctx, 2, domain.ChatFriend, 1))

	sess, err := f.store.Sessions().Get(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.UnreadCount)

	c, err := f.store.Unread().Get(ctx, 2, domain.ChatFriend, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)

	// Only the acknowledged peer's message stays counted.
	n, err := f.messages.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counters, err := f.conversations.UnreadCounters(ctx, 2)
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, int64(3), counters[0].ChatID)
}

func TestAcknowledge_RollsBackOnFailure(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	f.sendText(t, 1, 2, "a")
	_, err := f.db.Exec(`DROP TABLE unread_messages`)
	require.NoError(t, err)

	err = f.conversations.Acknowledge(ctx, 2, domain.ChatFriend, 1)
	require.ErrorIs(t, err, domain.ErrAcknowledgeFailed)

	sess, err := f.store.Sessions().Get(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.UnreadCount)

	n, err := f.messages.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAcknowledge_Group(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	ctx := context.Background()
	f.perms.On("IsGroupMember", mock.Anything, int64(4), int64(1)).Return(true, nil)
	f.perms.On("IsGroupMember", mock.Anything, int64(4), int64(2)).Return(true, nil)
	f.perms.On("IsGroupMember", mock.Anything, int64(4), int64(6)).Return(false, nil)
	f.perms.On("GroupMemberIDs", mock.Anything, int64(4)).Return([]int64{1, 2}, nil)

	_, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatGroup, ChatID: 4, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, f.conversations.Acknowledge(ctx, 2, domain.ChatGroup, 4))
	c, err := f.store.Unread().Get(ctx, 2, domain.ChatGroup, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)

	assert.ErrorIs(t, f.conversations.Acknowledge(ctx, 6, domain.ChatGroup, 4), domain.ErrNotGroupMember)
	assert.ErrorIs(t, f.conversations.Acknowledge(ctx, 2, "x", 4), domain.ErrInvalidChatType)
}

func TestListForUser_PreviewAndDangle(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	alice := &domain.User{Username: "alice", DisplayName: "Alice"}
	require.NoError(t, f.store.Users().Create(ctx, alice))
	bob := &domain.User{Username: "bob"}
	require.NoError(t, f.store.Users().Create(ctx, bob))
	carol := &domain.User{Username: "carol"}
	require.NoError(t, f.store.Users().Create(ctx, carol))

	fromAlice := f.sendText(t, alice.ID, bob.ID, "hi bob")
	f.clock.Set(base().Add(30 * time.Second))
	f.sendText(t, carol.ID, bob.ID, "hey")

	ov, err := f.conversations.ListForUser(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, ov.Sessions, 2)
	assert.Empty(t, ov.Groups)
	assert.Equal(t, carol.ID, ov.Sessions[0].PeerID)
	assert.Equal(t, "carol", ov.Sessions[0].DisplayName)
	assert.Equal(t, alice.ID, ov.Sessions[1].PeerID)
	assert.Equal(t, "Alice", ov.Sessions[1].DisplayName)
	require.NotNil(t, ov.Sessions[1].Preview)
	assert.Equal(t, "hi bob", *ov.Sessions[1].Preview.Content)

	require.NoError(t, f.messages.Recall(ctx, alice.ID, domain.ChatFriend, fromAlice.ID))

	ov, err = f.conversations.ListForUser(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, ov.Sessions, 2)
	assert.Nil(t, ov.Sessions[1].Preview)
	assert.Equal(t, 1, ov.Sessions[1].UnreadCount)
}

func TestClearUnread(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	f.sendText(t, 1, 2, "a")
	sess, err := f.store.Sessions().Get(ctx, 2, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, f.conversations.ClearUnread(ctx, 1, sess.ID), domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.conversations.ClearUnread(ctx, 2, sess.ID+50), domain.ErrSessionNotFound)

	require.NoError(t, f.conversations.ClearUnread(ctx, 2, sess.ID))
	sess, err = f.store.Sessions().GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.UnreadCount)

	c, err := f.store.Unread().Get(ctx, 2, domain.ChatFriend, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Count)
}

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pollchat/internal/domain"
	"pollchat/internal/service"
)

func TestSend_TextUpdatesSessionAndCounter(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	m := f.sendText(t, 1, 2, "hello")
	assert.NotZero(t, m.ID)
	assert.Equal(t, domain.StatusSent, m.Status)
	require.NotNil(t, m.Content)
	assert.Equal(t, "hello", *m.Content)

	f.sendText(t, 1, 2, "again")

	sess, err := f.store.Sessions().Get(ctx, 2, 1)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.UnreadCount)

	c, err := f.store.Unread().Get(ctx, 2, domain.ChatFriend, 1)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Count)

	// The sender gets no session of their own from sending.
	own, err := f.store.Sessions().Get(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, own)

	n, err := f.messages.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSend_FiltersMarkup(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	bad := f.sendText(t, 1, 2, "<script>bad</script>")
	good := f.sendText(t, 1, 2, "hello")

	stored, err := f.store.Messages().GetByID(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, service.MarkupPlaceholder, *stored.Content)

	stored, err = f.store.Messages().GetByID(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", *stored.Content)

	// Ciphertext is opaque to the server.
	enc, err := f.messages.Send(ctx, 1, service.SendInput{
		ChatType:    domain.ChatFriend,
		ChatID:      2,
		Content:     "<b>sealed</b>",
		IsEncrypted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "<b>sealed</b>", *enc.Content)
	assert.True(t, enc.IsEncrypted)
}

func TestSend_File(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()

	m, err := f.messages.Send(context.Background(), 1, service.SendInput{
		ChatType: domain.ChatFriend,
		ChatID:   2,
		File:     &service.FileRef{Path: "2024/03/report.pdf", Name: "<report>.pdf", Size: 2048},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageFile, m.Type)
	assert.Nil(t, m.Content)
	assert.Equal(t, "<report>.pdf", *m.FileName)
	assert.Equal(t, int64(2048), *m.FileSize)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	tests := []struct {
		name string
		in   service.SendInput
		want error
	}{
		{"empty", service.SendInput{ChatType: domain.ChatFriend, ChatID: 2}, domain.ErrEmptyMessage},
		{"both payloads", service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, Content: "x", File: &service.FileRef{Path: "p", Name: "n"}}, domain.ErrAmbiguousPayload},
		{"file without name", service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, File: &service.FileRef{Path: "p"}}, domain.ErrInvalidFile},
		{"bad chat type", service.SendInput{ChatType: "channel", ChatID: 2, Content: "x"}, domain.ErrInvalidChatType},
		{"bad client id", service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, Content: "x", ClientMsgID: "retry-1"}, domain.ErrInvalidClientID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := f.messages.Send(ctx, 1, tt.in)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestSend_NotPermitted(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.perms.On("CanMessage", mock.Anything, int64(1), int64(3)).Return(false, nil)
	ctx := context.Background()

	m, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatFriend, ChatID: 3, Content: "hi"})
	assert.Nil(t, m)
	assert.ErrorIs(t, err, domain.ErrCannotMessage)

	msgs, err := f.store.Messages().ListBetween(ctx, 1, 3, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_IdempotentRetry(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	key := uuid.NewString()
	in := service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, Content: "once", ClientMsgID: key}

	first, err := f.messages.Send(ctx, 1, in)
	require.NoError(t, err)
	second, err := f.messages.Send(ctx, 1, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	c, err := f.store.Unread().Get(ctx, 2, domain.ChatFriend, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)

	msgs, err := f.store.Messages().ListBetween(ctx, 1, 2, 10, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSend_ClientIDBoundToChat(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	key := uuid.NewString()
	first, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, Content: "to two", ClientMsgID: key})
	require.NoError(t, err)

	_, err = f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatFriend, ChatID: 3, Content: "to three", ClientMsgID: key})
	assert.ErrorIs(t, err, domain.ErrClientIDReused)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	c, err := f.store.Unread().Get(ctx, 3, domain.ChatFriend, 1)
	require.NoError(t, err)
	assert.Nil(t, c)

	msgs, err := f.store.Messages().ListBetween(ctx, 1, 2, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].ID)
}

func TestSend_GroupClientIDBoundToGroup(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	ctx := context.Background()
	f.perms.On("IsGroupMember", mock.Anything, mock.Anything, int64(1)).Return(true, nil)
	f.perms.On("GroupMemberIDs", mock.Anything, mock.Anything).Return([]int64{1, 2}, nil)

	key := uuid.NewString()
	_, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatGroup, ChatID: 9, Content: "g", ClientMsgID: key})
	require.NoError(t, err)

	_, err = f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatGroup, ChatID: 10, Content: "g", ClientMsgID: key})
	assert.ErrorIs(t, err, domain.ErrClientIDReused)

	got, err := f.store.GroupMessages().ListHistory(ctx, 10, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSend_StorageFailureLeavesNoPartialState(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	_, err := f.db.Exec(`DROP TABLE unread_messages`)
	require.NoError(t, err)

	m, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, Content: "lost"})
	assert.Nil(t, m)
	require.ErrorIs(t, err, domain.ErrSendFailed)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.Equal(t, "failed to send message, please try again", domain.PublicMessage(err))

	msgs, err := f.store.Messages().ListBetween(ctx, 1, 2, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	sess, err := f.store.Sessions().Get(ctx, 2, 1)
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSend_GroupBumpsEveryOtherMember(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	ctx := context.Background()
	f.perms.On("IsGroupMember", mock.Anything, int64(9), int64(1)).Return(true, nil)
	f.perms.On("GroupMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2, 3}, nil)

	m, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatGroup, ChatID: 9, Content: "all"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), m.GroupID)

	for _, uid := range []int64{2, 3} {
		c, err := f.store.Unread().Get(ctx, uid, domain.ChatGroup, 9)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, 1, c.Count)
	}
	c, err := f.store.Unread().Get(ctx, 1, domain.ChatGroup, 9)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestSend_GroupNonMember(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.perms.On("IsGroupMember", mock.Anything, int64(9), int64(4)).Return(false, nil)

	_, err := f.messages.Send(context.Background(), 4, service.SendInput{ChatType: domain.ChatGroup, ChatID: 9, Content: "hi"})
	assert.ErrorIs(t, err, domain.ErrNotGroupMember)
	f.perms.AssertNotCalled(t, "GroupMemberIDs", mock.Anything, mock.Anything)
}

func TestHistory_PaginationRoundTrip(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	var ids []int64
	for i, text := range []string{"m1", "m2", "m3", "m4", "m5"} {
		from, to := int64(1), int64(2)
		if i%2 == 1 {
			from, to = 2, 1
		}
		ids = append(ids, f.sendText(t, from, to, text).ID)
	}

	page1, err := f.messages.History(ctx, 1, domain.ChatFriend, 2, 2, 0)
	require.NoError(t, err)
	page2, err := f.messages.History(ctx, 2, domain.ChatFriend, 1, 2, 2)
	require.NoError(t, err)

	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	assert.Equal(t, []int64{ids[3], ids[4]}, []int64{page1[0].ID, page1[1].ID})
	assert.Equal(t, []int64{ids[1], ids[2]}, []int64{page2[0].ID, page2[1].ID})

	all, err := f.messages.History(ctx, 1, domain.ChatFriend, 2, 0, -5)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, ids[0], all[0].ID)
}

func TestHistory_LimitIsClamped(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{HistoryDefault: 2, HistoryMax: 3})
	f.allowFriends()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.sendText(t, 1, 2, "x")
	}

	got, err := f.messages.History(ctx, 1, domain.ChatFriend, 2, 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.messages.History(ctx, 1, domain.ChatFriend, 2, 1000, 0)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	require.NoError(t, f.messages.MarkRead(ctx, 2, nil))
	require.NoError(t, f.messages.MarkRead(ctx, 2, []int64{}))

	a := f.sendText(t, 1, 2, "a")
	b := f.sendText(t, 1, 2, "b")

	// User 1 did not receive these; the call succeeds without effect.
	require.NoError(t, f.messages.MarkRead(ctx, 1, []int64{a.ID, b.ID}))
	n, err := f.messages.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, f.messages.MarkRead(ctx, 2, []int64{a.ID}))
	require.NoError(t, f.messages.MarkRead(ctx, 2, []int64{a.ID}))
	n, err = f.messages.UnreadCount(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecall_WindowBoundary(t *testing.T) {
	tests := []struct {
		name  string
		mode  service.RecallMode
		after time.Duration
		want  error
	}{
		{"coarse at two minutes", service.RecallCoarse, 2 * time.Minute, nil},
		{"coarse at 2m59s", service.RecallCoarse, 2*time.Minute + 59*time.Second, nil},
		{"coarse at 3m01s", service.RecallCoarse, 3*time.Minute + time.Second, domain.ErrRecallTooLate},
		{"exact at two minutes", service.RecallExact, 2 * time.Minute, nil},
		{"exact at 2m01s", service.RecallExact, 2*time.Minute + time.Second, domain.ErrRecallTooLate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mode, service.Limits{})
			f.allowFriends()
			ctx := context.Background()

			m := f.sendText(t, 1, 2, "oops")
			f.clock.Set(base().Add(tt.after))

			err := f.messages.Recall(ctx, 1, domain.ChatFriend, m.ID)
			stored, gerr := f.store.Messages().GetByID(ctx, m.ID)
			require.NoError(t, gerr)

			if tt.want == nil {
				require.NoError(t, err)
				assert.Nil(t, stored)
				return
			}
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, domain.KindPolicy, domain.KindOf(err))
			assert.NotNil(t, stored)
		})
	}
}

func TestRecall_ForeignAndMissingLookAlike(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	m := f.sendText(t, 1, 2, "mine")

	foreign := f.messages.Recall(ctx, 2, domain.ChatFriend, m.ID)
	missing := f.messages.Recall(ctx, 2, domain.ChatFriend, m.ID+100)

	assert.ErrorIs(t, foreign, domain.ErrRecallNotAllowed)
	assert.ErrorIs(t, missing, domain.ErrRecallNotAllowed)
	assert.Equal(t, domain.PublicMessage(foreign), domain.PublicMessage(missing))
	assert.Equal(t, "message not found or not permitted", domain.PublicMessage(foreign))

	stored, err := f.store.Messages().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)

	// Second recall of an already recalled message is not found.
	require.NoError(t, f.messages.Recall(ctx, 1, domain.ChatFriend, m.ID))
	assert.ErrorIs(t, f.messages.Recall(ctx, 1, domain.ChatFriend, m.ID), domain.ErrRecallNotAllowed)
}

func TestRecall_FileRemovalIsBestEffort(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()
	f.files.On("Remove", mock.Anything, "2024/03/photo.jpg").Return(assert.AnError)

	m, err := f.messages.Send(ctx, 1, service.SendInput{
		ChatType: domain.ChatFriend,
		ChatID:   2,
		File:     &service.FileRef{Path: "2024/03/photo.jpg", Name: "photo.jpg", Size: 10},
	})
	require.NoError(t, err)

	require.NoError(t, f.messages.Recall(ctx, 1, domain.ChatFriend, m.ID))
	f.files.AssertCalled(t, "Remove", mock.Anything, "2024/03/photo.jpg")

	stored, err := f.store.Messages().GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRecall_KeepsFileStillAttachedElsewhere(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	f.perms.On("IsGroupMember", mock.Anything, int64(9), mock.Anything).Return(true, nil)
	f.perms.On("GroupMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2}, nil)
	f.files.On("Remove", mock.Anything, "shared.jpg").Return(nil)
	ctx := context.Background()
	file := &service.FileRef{Path: "shared.jpg", Name: "cat.jpg", Size: 10}

	// Bob uploaded the file; Alice sends the same path twice and recalls.
	bobs, err := f.messages.Send(ctx, 2, service.SendInput{ChatType: domain.ChatFriend, ChatID: 1, File: file})
	require.NoError(t, err)
	alices, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatFriend, ChatID: 2, File: file})
	require.NoError(t, err)
	alicesGroup, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatGroup, ChatID: 9, File: file})
	require.NoError(t, err)

	require.NoError(t, f.messages.Recall(ctx, 1, domain.ChatFriend, alices.ID))
	require.NoError(t, f.messages.Recall(ctx, 1, domain.ChatGroup, alicesGroup.ID))
	f.files.AssertNotCalled(t, "Remove", mock.Anything, mock.Anything)

	stored, err := f.store.Messages().GetByID(ctx, bobs.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	// The last reference going away removes the file.
	require.NoError(t, f.messages.Recall(ctx, 2, domain.ChatFriend, bobs.ID))
	f.files.AssertCalled(t, "Remove", mock.Anything, "shared.jpg")
}

func TestRecall_KeepsUnreadCounters(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	f.allowFriends()
	ctx := context.Background()

	m := f.sendText(t, 1, 2, "regret")
	require.NoError(t, f.messages.Recall(ctx, 1, domain.ChatFriend, m.ID))

	c, err := f.store.Unread().Get(ctx, 2, domain.ChatFriend, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Count)

	sess, err := f.store.Sessions().Get(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.UnreadCount)
}

func TestRecall_Group(t *testing.T) {
	f := newFixture(t, service.RecallCoarse, service.Limits{})
	ctx := context.Background()
	f.perms.On("IsGroupMember", mock.Anything, int64(9), mock.Anything).Return(true, nil)
	f.perms.On("GroupMemberIDs", mock.Anything, int64(9)).Return([]int64{1, 2}, nil)

	m, err := f.messages.Send(ctx, 1, service.SendInput{ChatType: domain.ChatGroup, ChatID: 9, Content: "g"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.messages.Recall(ctx, 2, domain.ChatGroup, m.ID), domain.ErrRecallNotAllowed)
	// A group message id is not a friend message id.
	assert.ErrorIs(t, f.messages.Recall(ctx, 1, domain.ChatFriend, m.ID), domain.ErrRecallNotAllowed)
	require.NoError(t, f.messages.Recall(ctx, 1, domain.ChatGroup, m.ID))

	got, err := f.messages.History(ctx, 2, domain.ChatGroup, 9, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

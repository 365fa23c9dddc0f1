package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"pollchat/internal/domain"
)

var testDB *sql.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var container *tcpostgres.PostgresContainer
	err := recoverStart(func() (err error) {
		container, err = tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("pollchat"),
			tcpostgres.WithUsername("pollchat"),
			tcpostgres.WithPassword("password"),
			tcpostgres.BasicWaitStrategies(),
		)
		return err
	})
	if err != nil {
		log.Printf("postgres container unavailable, store tests will skip: %v", err)
		if container != nil {
			_ = container.Terminate(ctx)
		}
		os.Exit(m.Run())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}
	testDB, err = Open(connStr)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	if err := Migrate(testDB); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("terminate container: %v", err)
	}
	os.Exit(code)
}

// recoverStart runs start and turns a panic into an error. testcontainers
// panics while looking up the Docker host when no daemon is reachable.
func recoverStart(start func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start container: %v", r)
		}
	}()
	return start()
}

func TestRecoverStart(t *testing.T) {
	err := recoverStart(func() error { panic("rootless Docker not found") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rootless Docker not found")

	assert.NoError(t, recoverStart(func() error { return nil }))
	assert.ErrorIs(t, recoverStart(func() error { return sql.ErrConnDone }), sql.ErrConnDone)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testDB == nil {
		t.Skip("postgres not available")
	}
	for _, table := range []string{"messages", "group_messages", "sessions", "unread_messages", "group_members", "chat_groups", "friendships", "users"} {
		_, err := testDB.Exec(`TRUNCATE ` + table + ` RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
	}
	return NewStore(testDB)
}

func text(s string) *string { return &s }

func sendText(t *testing.T, s *Store, from, to int64, body string) *domain.Message {
	t.Helper()
	m := &domain.Message{SenderID: from, ReceiverID: to, Content: text(body), Type: domain.MessageText}
	require.NoError(t, s.Messages().Create(context.Background(), m))
	return m
}

func TestMigrate_Idempotent(t *testing.T) {
	newTestStore(t)
	require.NoError(t, Migrate(testDB))
}

func TestMessageRepo_ListSinceAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m1 := sendText(t, s, 1, 2, "a")
	m2 := sendText(t, s, 2, 1, "b")
	m3 := sendText(t, s, 1, 2, "c")
	sendText(t, s, 1, 3, "other")

	got, err := s.Messages().ListSince(ctx, 2, 1, m1.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, m2.ID, got[0].ID)
	assert.Equal(t, m3.ID, got[1].ID)

	require.NoError(t, s.Messages().MarkRead(ctx, 2, []int64{m1.ID, m2.ID, m3.ID}))
	n, err := s.Messages().CountUnread(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// m2 was received by user 1 and must stay unread
	n, err = s.Messages().CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Messages().MarkRead(ctx, 2, nil))
}

func TestMessageRepo_ClientIDUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cid := "5b1c0c1e-6a53-4cf7-9a1d-3f1f3a7f1d11"
	m := &domain.Message{SenderID: 1, ReceiverID: 2, Content: text("x"), Type: domain.MessageText, ClientMsgID: &cid}
	require.NoError(t, s.Messages().Create(ctx, m))

	dup := &domain.Message{SenderID: 1, ReceiverID: 2, Content: text("x"), Type: domain.MessageText, ClientMsgID: &cid}
	assert.Error(t, s.Messages().Create(ctx, dup))

	found, err := s.Messages().FindByClientID(ctx, 1, cid)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, m.ID, found.ID)
}

func TestSessionRepo_UpsertAndPreview(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	peer := &domain.User{Username: "bob", DisplayName: "Bob"}
	require.NoError(t, s.Users().Create(ctx, peer))

	m1 := sendText(t, s, peer.ID, 100, "hi")
	require.NoError(t, s.Sessions().Upsert(ctx, 100, peer.ID, m1.ID))
	m2 := sendText(t, s, peer.ID, 100, "again")
	require.NoError(t, s.Sessions().Upsert(ctx, 100, peer.ID, m2.ID))

	list, err := s.Sessions().ListForUser(ctx, 100)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, "Bob", list[0].DisplayName)
	require.NotNil(t, list[0].Preview)
	assert.Equal(t, m2.ID, list[0].Preview.MessageID)

	reply := sendText(t, s, 100, peer.ID, "reply")
	list, err = s.Sessions().ListForUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, reply.ID, list[0].Preview.MessageID)

	_, err = s.Messages().DeleteBySender(ctx, reply.ID, 100)
	require.NoError(t, err)
	_, err = s.Messages().DeleteBySender(ctx, m2.ID, peer.ID)
	require.NoError(t, err)
	list, err = s.Sessions().ListForUser(ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, list[0].Preview)

	require.NoError(t, s.Sessions().ClearUnreadForPeer(ctx, 100, peer.ID))
	sess, err := s.Sessions().Get(ctx, 100, peer.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.UnreadCount)
}

func TestStore_WithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithinTx(ctx, func(tx domain.Store) error {
		m := &domain.Message{SenderID: 1, ReceiverID: 2, Content: text("lost"), Type: domain.MessageText}
		if err := tx.Messages().Create(ctx, m); err != nil {
			return err
		}
		if err := tx.Unread().Increment(ctx, 2, domain.ChatFriend, 1, m.ID); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := s.Messages().ListBetween(ctx, 1, 2, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	c, err := s.Unread().Get(ctx, 2, domain.ChatFriend, 1)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestUnreadRepo_IncrementReset(t *testing.T) {
	newTestStore(t)
	s := NewStore(testDB, WithClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }))
	ctx := context.Background()

	require.NoError(t, s.Unread().Increment(ctx, 7, domain.ChatGroup, 3, 10))
	require.NoError(t, s.Unread().Increment(ctx, 7, domain.ChatGroup, 3, 11))

	c, err := s.Unread().Get(ctx, 7, domain.ChatGroup, 3)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 2, c.Count)
	require.NotNil(t, c.LastMessageID)
	assert.Equal(t, int64(11), *c.LastMessageID)

	require.NoError(t, s.Unread().Reset(ctx, 7, domain.ChatGroup, 3))
	list, err := s.Unread().ListForUser(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPermissionRepo(t *testing.T) {
	newTestStore(t)
	ctx := context.Background()

	_, err := testDB.Exec(`INSERT INTO friendships (user_id, friend_id) VALUES (1, 2)`)
	require.NoError(t, err)
	var gid int64
	require.NoError(t, testDB.QueryRow(`INSERT INTO chat_groups (name) VALUES ('g') RETURNING id`).Scan(&gid))
	_, err = testDB.Exec(`INSERT INTO group_members (group_id, user_id) VALUES ($1, 2), ($1, 1)`, gid)
	require.NoError(t, err)

	p := NewPermissionRepo(testDB)
	ok, err := p.CanMessage(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.CanMessage(ctx, 2, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := p.GroupMemberIDs(ctx, gid)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestMessageRepo_CountByFilePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, from := range []int64{1, 2} {
		m := &domain.Message{SenderID: from, ReceiverID: 3, Type: domain.MessageFile, FilePath: text("a.png"), FileName: text("a.png")}
		require.NoError(t, s.Messages().Create(ctx, m))
	}
	g := &domain.Message{SenderID: 1, GroupID: 7, Type: domain.MessageFile, FilePath: text("a.png"), FileName: text("a.png")}
	require.NoError(t, s.GroupMessages().Create(ctx, g))

	n, err := s.Messages().CountByFilePath(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.GroupMessages().CountByFilePath(ctx, "a.png")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

package service_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/learnhub/rooms-service/internal/models"
	"github.com/learnhub/rooms-service/internal/repository"
	"github.com/learnhub/rooms-service/internal/service"
)

// fakeStore is an in-memory DynamoDBRepository with the same contract as
// the real one: conditional inserts, transactional removal, newest-first
// message queries.
type fakeStore struct {
	mu         sync.Mutex
	rooms      map[string]*models.Room
	members    map[string]map[string]*models.RoomMember
	moderators map[string]map[string]*models.RoomModerator
	users      map[string]*models.User
	messages   map[string]*models.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:      make(map[string]*models.Room),
		members:    make(map[string]map[string]*models.RoomMember),
		moderators: make(map[string]map[string]*models.RoomModerator),
		users:      make(map[string]*models.User),
		messages:   make(map[string]*models.Message),
	}
}

func (f *fakeStore) addUser(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = &models.User{ID: id, DisplayName: name}
}

func (f *fakeStore) addMessage(msg *models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.ID] = msg
}

func (f *fakeStore) CreateRoomWithCreator(_ context.Context, room *models.Room, member *models.RoomMember, moderator *models.RoomModerator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[room.ID] = room
	f.members[room.ID] = map[string]*models.RoomMember{member.UserID: member}
	f.moderators[room.ID] = map[string]*models.RoomModerator{moderator.UserID: moderator}
	return nil
}

func (f *fakeStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return room, nil
}

func (f *fakeStore) ListRooms(_ context.Context) ([]*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make([]*models.Room, 0, len(f.rooms))
	for _, room := range f.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
	})
	return rooms, nil
}

func (f *fakeStore) AddMember(_ context.Context, member *models.RoomMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[member.RoomID] == nil {
		f.members[member.RoomID] = make(map[string]*models.RoomMember)
	}
	if _, exists := f.members[member.RoomID][member.UserID]; exists {
		return repository.ErrAlreadyMember
	}
	f.members[member.RoomID][member.UserID] = member
	return nil
}

func (f *fakeStore) RemoveMembership(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[roomID], userID)
	delete(f.moderators[roomID], userID)
	return nil
}

func (f *fakeStore) IsMember(_ context.Context, roomID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.members[roomID][userID]
	return ok, nil
}

func (f *fakeStore) ListMembers(_ context.Context, roomID string) ([]*models.RoomMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members := make([]*models.RoomMember, 0, len(f.members[roomID]))
	for _, m := range f.members[roomID] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members, nil
}

func (f *fakeStore) CountMembers(_ context.Context, roomID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members[roomID]), nil
}

func (f *fakeStore) AddModerator(_ context.Context, moderator *models.RoomModerator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moderators[moderator.RoomID] == nil {
		f.moderators[moderator.RoomID] = make(map[string]*models.RoomModerator)
	}
	if _, exists := f.moderators[moderator.RoomID][moderator.UserID]; exists {
		return repository.ErrAlreadyModerator
	}
	f.moderators[moderator.RoomID][moderator.UserID] = moderator
	return nil
}

func (f *fakeStore) IsModerator(_ context.Context, roomID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.moderators[roomID][userID]
	return ok, nil
}

func (f *fakeStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) GetUsers(_ context.Context, userIDs []string) (map[string]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make(map[string]*models.User, len(userIDs))
	for _, id := range userIDs {
		if user, ok := f.users[id]; ok {
			users[id] = user
		}
	}
	return users, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, message *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[message.ID] = message
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, messageID string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageID]
	if !ok {
		return nil, repository.ErrMessageNotFound
	}
	return message, nil
}

func (f *fakeStore) MarkMessageDeleted(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	message, ok := f.messages[messageID]
	if !ok {
		return repository.ErrMessageNotFound
	}
	message.IsDeleted = true
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, roomID string, before *models.Message, limit int) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var messages []*models.Message
	for _, m := range f.messages {
		if m.RoomID != roomID || m.IsDeleted {
			continue
		}
		if before != nil && (m.ID == before.ID || !m.CreatedAt.Before(before.CreatedAt)) {
			continue
		}
		messages = append(messages, m)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// passthroughCache always calls the fetch function; list invalidation is a
// no-op.
type passthroughCache struct{}

func (passthroughCache) GetOrSet(ctx context.Context, _ string, _ time.Duration, dest interface{}, fetch func(context.Context) (interface{}, error)) error {
	value, err := fetch(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (passthroughCache) Invalidate(context.Context, string) error { return nil }

type publishedEvent struct {
	eventType string
	roomID    string
	userID    string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (n *recordingNotifier) record(eventType, roomID, userID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, publishedEvent{eventType, roomID, userID})
}

func (n *recordingNotifier) PublishUserJoined(_ context.Context, roomID string, user *models.User) error {
	n.record(models.EventUserJoined, roomID, user.ID)
	return nil
}

func (n *recordingNotifier) PublishUserLeft(_ context.Context, roomID string, user *models.User) error {
	n.record(models.EventUserLeft, roomID, user.ID)
	return nil
}

func (n *recordingNotifier) PublishMessage(_ context.Context, roomID string, message *models.Message) error {
	n.record(models.EventMessage, roomID, message.AuthorID)
	return nil
}

func newTestService(t *testing.T) (*service.RoomService, *fakeStore, *recordingNotifier) {
	t.Helper()
	store := newFakeStore()
	notifier := &recordingNotifier{}
	svc := service.NewRoomService(store, passthroughCache{}, notifier, zap.NewNop())
	return svc, store, notifier
}

func mustCreateRoom(t *testing.T, svc *service.RoomService, creatorID string) *models.Room {
	t.Helper()
	room, err := svc.CreateRoom(context.Background(), service.CreateRoomInput{
		Name:        "Study Group",
		Description: "Weekly sync",
	}, creatorID)
	require.NoError(t, err)
	return room
}

func TestCreateRoom_CreatorIsMemberAndModerator(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")

	room, err := svc.CreateRoom(context.Background(), service.CreateRoomInput{
		Name:        "  Study Group  ",
		Description: " Weekly sync ",
		IsPrivate:   false,
	}, "alice")
	require.NoError(t, err)

	assert.Equal(t, "Study Group", room.Name)
	assert.Equal(t, "Weekly sync", room.Description)
	assert.Equal(t, "alice", room.CreatorID)

	isMember, err := svc.IsUserMember(context.Background(), room.ID, "alice")
	require.NoError(t, err)
	assert.True(t, isMember)

	isModerator, err := svc.IsUserModerator(context.Background(), room.ID, "alice")
	require.NoError(t, err)
	assert.True(t, isModerator)
}

func TestCreateRoom_Validation(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")

	_, err := svc.CreateRoom(context.Background(), service.CreateRoomInput{
		Name: "   ", Description: "desc",
	}, "alice")
	var validationErr *service.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	_, err = svc.CreateRoom(context.Background(), service.CreateRoomInput{
		Name: "Room", Description: "",
	}, "alice")
	assert.ErrorAs(t, err, &validationErr)

	_, err = svc.CreateRoom(context.Background(), service.CreateRoomInput{
		Name: "Room", Description: "desc",
	}, "nobody")
	assert.ErrorAs(t, err, &validationErr)
}

func TestJoinRoom_ThenLeave(t *testing.T) {
	svc, store, notifier := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")

	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))

	isMember, err := svc.IsUserMember(context.Background(), room.ID, "bob")
	require.NoError(t, err)
	assert.True(t, isMember)

	require.NoError(t, svc.LeaveRoom(context.Background(), room.ID, "bob"))

	isMember, err = svc.IsUserMember(context.Background(), room.ID, "bob")
	require.NoError(t, err)
	assert.False(t, isMember)

	// Second leave in a row fails: no longer a member.
	err = svc.LeaveRoom(context.Background(), room.ID, "bob")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "not a member", validationErr.Error())

	assert.Equal(t, []publishedEvent{
		{models.EventUserJoined, room.ID, "bob"},
		{models.EventUserLeft, room.ID, "bob"},
	}, notifier.events)
}

func TestJoinRoom_Twice(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")

	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))

	err := svc.JoinRoom(context.Background(), room.ID, "bob")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "already a member", validationErr.Error())

	members, err := svc.GetRoomMembers(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2) // creator + bob, exactly once
}

func TestJoinRoom_StoreRace(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")

	// Simulate losing the write race: the membership row appears between
	// the service's read and its insert.
	require.NoError(t, store.AddMember(context.Background(), &models.RoomMember{
		RoomID: room.ID, UserID: "bob", JoinedAt: time.Now(),
	}))

	err := svc.JoinRoom(context.Background(), room.ID, "bob")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "already a member", validationErr.Error())
}

func TestJoinRoom_RoomNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("bob", "Bob")

	err := svc.JoinRoom(context.Background(), "missing", "bob")
	var notFoundErr *service.NotFoundError
	assert.ErrorAs(t, err, &notFoundErr)
}

func TestKickMember(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	store.addUser("carol", "Carol")
	room := mustCreateRoom(t, svc, "alice")
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "carol"))

	// Non-moderator cannot kick; membership unchanged.
	err := svc.KickMember(context.Background(), room.ID, "carol", "bob")
	var authErr *service.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	isMember, err := svc.IsUserMember(context.Background(), room.ID, "carol")
	require.NoError(t, err)
	assert.True(t, isMember)

	// Moderator can kick a non-creator member.
	require.NoError(t, svc.KickMember(context.Background(), room.ID, "carol", "alice"))
	isMember, err = svc.IsUserMember(context.Background(), room.ID, "carol")
	require.NoError(t, err)
	assert.False(t, isMember)
}

func TestKickMember_CreatorIsUnkickable(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))
	require.NoError(t, svc.PromoteModerator(context.Background(), room.ID, "bob", "alice"))

	// No moderator can kick the creator, not even the creator.
	var validationErr *service.ValidationError
	err := svc.KickMember(context.Background(), room.ID, "alice", "bob")
	require.ErrorAs(t, err, &validationErr)
	err = svc.KickMember(context.Background(), room.ID, "alice", "alice")
	require.ErrorAs(t, err, &validationErr)

	isMember, err := svc.IsUserMember(context.Background(), room.ID, "alice")
	require.NoError(t, err)
	assert.True(t, isMember)
}

func TestLeaveRoom_CreatorCannotLeave(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	room := mustCreateRoom(t, svc, "alice")

	err := svc.LeaveRoom(context.Background(), room.ID, "alice")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)

	isModerator, err := svc.IsUserModerator(context.Background(), room.ID, "alice")
	require.NoError(t, err)
	assert.True(t, isModerator)
}

func TestLeaveRoom_RemovesModeratorRecord(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))
	require.NoError(t, svc.PromoteModerator(context.Background(), room.ID, "bob", "alice"))

	require.NoError(t, svc.LeaveRoom(context.Background(), room.ID, "bob"))

	isModerator, err := svc.IsUserModerator(context.Background(), room.ID, "bob")
	require.NoError(t, err)
	assert.False(t, isModerator)
}

func TestPromoteModerator(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))

	// Only moderators can promote.
	err := svc.PromoteModerator(context.Background(), room.ID, "bob", "bob")
	var authErr *service.AuthorizationError
	require.ErrorAs(t, err, &authErr)

	require.NoError(t, svc.PromoteModerator(context.Background(), room.ID, "bob", "alice"))
	isModerator, err := svc.IsUserModerator(context.Background(), room.ID, "bob")
	require.NoError(t, err)
	assert.True(t, isModerator)

	// Promoting twice is rejected.
	err = svc.PromoteModerator(context.Background(), room.ID, "bob", "alice")
	var validationErr *service.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestGetRoomMembers_OrderedByJoinTime(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	store.addUser("carol", "Carol")
	room := mustCreateRoom(t, svc, "alice")
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "carol"))

	// Force distinct join times.
	store.mu.Lock()
	store.members[room.ID]["alice"].JoinedAt = time.Unix(100, 0)
	store.members[room.ID]["bob"].JoinedAt = time.Unix(300, 0)
	store.members[room.ID]["carol"].JoinedAt = time.Unix(200, 0)
	store.mu.Unlock()

	members, err := svc.GetRoomMembers(context.Background(), room.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "alice", members[0].ID)
	assert.Equal(t, "carol", members[1].ID)
	assert.Equal(t, "bob", members[2].ID)
}

func TestGetRoomMessages_CursorAndSoftDelete(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	room := mustCreateRoom(t, svc, "alice")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"m1", "m2", "m3", "m4"} {
		store.addMessage(&models.Message{
			ID:        id,
			RoomID:    room.ID,
			AuthorID:  "alice",
			Content:   id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, svc.DeleteMessage(context.Background(), room.ID, "m2", "alice"))

	// Newest first, soft-deleted excluded.
	messages, err := svc.GetRoomMessages(context.Background(), room.ID, "", 50)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "m4", messages[0].ID)
	assert.Equal(t, "m3", messages[1].ID)
	assert.Equal(t, "m1", messages[2].ID)

	// Cursor results never include the cursor message itself.
	messages, err = svc.GetRoomMessages(context.Background(), room.ID, "m4", 50)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m3", messages[0].ID)
	assert.Equal(t, "m1", messages[1].ID)

	// Unknown cursor is rejected.
	_, err = svc.GetRoomMessages(context.Background(), room.ID, "missing", 50)
	var validationErr *service.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestPostMessage(t *testing.T) {
	svc, store, notifier := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	room := mustCreateRoom(t, svc, "alice")

	// Non-members cannot post.
	_, err := svc.PostMessage(context.Background(), room.ID, "bob", "hello")
	var authErr *service.AuthorizationError
	require.ErrorAs(t, err, &authErr)

	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))
	message, err := svc.PostMessage(context.Background(), room.ID, "bob", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", message.Content)
	assert.Equal(t, "bob", message.AuthorID)

	last := notifier.events[len(notifier.events)-1]
	assert.Equal(t, models.EventMessage, last.eventType)
}

func TestDeleteMessage_AuthorOrModeratorOnly(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	store.addUser("bob", "Bob")
	store.addUser("carol", "Carol")
	room := mustCreateRoom(t, svc, "alice")
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "bob"))
	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "carol"))

	message, err := svc.PostMessage(context.Background(), room.ID, "bob", "hello")
	require.NoError(t, err)

	// Another plain member may not delete it.
	err = svc.DeleteMessage(context.Background(), room.ID, message.ID, "carol")
	var authErr *service.AuthorizationError
	require.ErrorAs(t, err, &authErr)

	// The author may.
	require.NoError(t, svc.DeleteMessage(context.Background(), room.ID, message.ID, "bob"))

	messages, err := svc.GetRoomMessages(context.Background(), room.ID, "", 50)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestListRooms_Pagination(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("alice", "Alice")
	for i := 0; i < 5; i++ {
		mustCreateRoom(t, svc, "alice")
	}

	rooms, total, err := svc.ListRooms(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, rooms, 2)

	rooms, total, err = svc.ListRooms(context.Background(), 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, rooms, 1)

	rooms, _, err = svc.ListRooms(context.Background(), 9, 2)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

// The end-to-end membership scenario: create, join, kick, creator guard.
func TestStudyGroupScenario(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser("a", "User A")
	store.addUser("b", "User B")

	room, err := svc.CreateRoom(context.Background(), service.CreateRoomInput{
		Name:        "Study Group",
		Description: "Weekly sync",
		IsPrivate:   false,
	}, "a")
	require.NoError(t, err)

	isMember, _ := svc.IsUserMember(context.Background(), room.ID, "a")
	isModerator, _ := svc.IsUserModerator(context.Background(), room.ID, "a")
	assert.True(t, isMember)
	assert.True(t, isModerator)

	require.NoError(t, svc.JoinRoom(context.Background(), room.ID, "b"))
	members, err := svc.GetRoomMembers(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	require.NoError(t, svc.KickMember(context.Background(), room.ID, "b", "a"))
	members, err = svc.GetRoomMembers(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	isMember, _ = svc.IsUserMember(context.Background(), room.ID, "b")
	assert.False(t, isMember)

	err = svc.KickMember(context.Background(), room.ID, "a", "a")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	members, err = svc.GetRoomMembers(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

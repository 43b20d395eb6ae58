package relay

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerline/chatrelay/internal/store"
)

type fakeStore struct {
	mu          sync.Mutex
	records     []store.Record
	recent      []json.RawMessage
	queriedRoom string
	insertErr   error
	queryErr    error
}

func (f *fakeStore) Insert(rec store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) QueryRecent(roomID string, _ int) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queriedRoom = roomID
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.recent, nil
}

func (f *fakeStore) stored() []store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Record(nil), f.records...)
}

func newTestRouter(st *fakeStore) (*Router, *Registry) {
	registry := NewRegistry(discardLogger())
	router := NewRouter(registry, st, discardLogger(), 50)
	router.now = func() time.Time {
		return time.Date(2026, time.January, 2, 13, 37, 0, 0, time.Local)
	}
	return router, registry
}

func connectThree(registry *Registry) (alice, bob, carol *stubHandle) {
	alice, bob, carol = &stubHandle{}, &stubHandle{}, &stubHandle{}
	registry.Connect(alice, "alice", "global")
	registry.Connect(bob, "bob", "global")
	registry.Connect(carol, "carol", "global")
	alice.reset()
	bob.reset()
	carol.reset()
	return alice, bob, carol
}

func TestRouter_GetHistory_RepliesOnlyToRequester(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{recent: []json.RawMessage{
		json.RawMessage(`{"text":"first"}`),
		json.RawMessage(`{"text":"second"}`),
	}}
	router, registry := newTestRouter(st)
	alice, bob, _ := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"type":"get_history"}`))

	req.Equal("global", st.queriedRoom)
	replies := alice.sentOfType(TypeHistory)
	req.Len(replies, 1)
	req.Len(replies[0]["messages"], 2)
	req.Empty(bob.sent())
}

func TestRouter_GetHistory_EmptyRoomYieldsEmptyArray(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{recent: []json.RawMessage{}}
	router, registry := newTestRouter(st)
	alice, _, _ := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"type":"get_history"}`))

	req.Len(alice.payloadsSnapshot(), 1)
	req.JSONEq(`{"type":"history","messages":[]}`, string(alice.payloadsSnapshot()[0]))
}

func TestRouter_GetHistory_ExplicitRoomWins(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)
	connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"type":"get_history","room_id":"friends"}`))

	req.Equal("friends", st.queriedRoom)
}

func TestRouter_GetHistory_StoreFailureKeepsConnectionQuiet(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{queryErr: store.ErrUnavailable}
	router, registry := newTestRouter(st)
	alice, _, _ := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"type":"get_history"}`))

	// No reply, no crash, and alice is still registered
	req.Empty(alice.sent())
	req.Contains(registry.connections, "alice")
}

func TestRouter_PrivateChatRequest_ForwardsInvitation(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)
	alice, bob, carol := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"type":"private_chat_request","recipient_id":"bob"}`))

	invites := bob.sentOfType(TypeInvitation)
	req.Len(invites, 1)
	req.Equal("alice", invites[0]["from_user"])
	req.Empty(alice.sent())
	req.Empty(carol.sent())
	req.Empty(st.stored(), "invitations are never persisted")
}

func TestRouter_PrivateMessage_PersistsAndDeliversToBothEnds(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)
	alice, bob, carol := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"type":"private_message","recipient_id":"bob","text":"psst"}`))

	records := st.stored()
	req.Len(records, 1)
	req.Equal(store.KindPrivate, records[0].Kind)

	for _, handle := range []*stubHandle{alice, bob} {
		frames := handle.sentOfType(TypePrivateMessage)
		req.Len(frames, 1)
		req.Equal("psst", frames[0]["text"])
		req.Equal("alice", frames[0]["user_id"])
		req.Equal("bob", frames[0]["recipient_id"])
		req.Equal("13:37", frames[0]["timestamp"])
	}
	req.Empty(carol.sent(), "private messages never reach other room members")
}

func TestRouter_RoomChat_PersistsOnceAndBroadcastsToAll(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)
	alice, bob, carol := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"text":"hello room","mood":"cheerful"}`))

	records := st.stored()
	req.Len(records, 1)
	req.Equal(store.KindPublic, records[0].Kind)
	req.Equal("global", records[0].RoomID)

	for _, handle := range []*stubHandle{alice, bob, carol} {
		frames := handle.sent()
		req.Len(frames, 1)
		req.Equal("hello room", frames[0]["text"])
		req.Equal("cheerful", frames[0]["mood"], "extra frame fields survive")
		req.Equal("alice", frames[0]["user_id"])
		req.Equal("global", frames[0]["room_id"])
		req.Equal("13:37", frames[0]["timestamp"])
	}
}

func TestRouter_UnknownTypeWithRecipient_BroadcastsWithoutPersisting(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)
	alice, bob, carol := connectThree(registry)

	// The recipient field does not make an unrecognized type private: the
	// frame still goes to the whole room and is kept out of the store.
	router.HandleFrame("alice", "global", []byte(`{"type":"whisper","recipient_id":"bob","text":"hi"}`))

	req.Empty(st.stored())
	for _, handle := range []*stubHandle{alice, bob, carol} {
		req.Len(handle.sent(), 1)
	}
}

func TestRouter_MalformedFrame_DegradesToLegacyText(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)
	alice, bob, _ := connectThree(registry)

	router.HandleFrame("alice", "global", []byte("just plain text"))

	records := st.stored()
	req.Len(records, 1)
	req.Equal(store.KindPublic, records[0].Kind)

	frames := bob.sent()
	req.Len(frames, 1)
	req.Equal("just plain text", frames[0]["text"])
	req.Equal("alice", frames[0]["user_id"])
	req.Equal("global", frames[0]["room_id"])
	req.Len(alice.sent(), 1)
}

func TestRouter_PersistFailure_StillBroadcasts(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{insertErr: store.ErrUnavailable}
	router, registry := newTestRouter(st)
	alice, bob, _ := connectThree(registry)

	router.HandleFrame("alice", "global", []byte(`{"text":"hello"}`))

	req.Len(alice.sent(), 1)
	req.Len(bob.sent(), 1)
	req.Contains(registry.connections, "alice", "store outage must not drop the connection")
}

type scriptedConn struct {
	stubHandle
	mu     sync.Mutex
	frames [][]byte
}

func (c *scriptedConn) ReadFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil, io.EOF
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return frame, nil
}

func TestRouter_Serve_ProcessesFramesThenUnregistersOnce(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)

	conn := &scriptedConn{frames: [][]byte{
		[]byte(`{"text":"one"}`),
		[]byte(`{"text":"two"}`),
	}}
	registry.Connect(conn, "alice", "global")

	router.Serve(conn, "alice", "global")

	req.Len(st.stored(), 2)
	req.NotContains(registry.connections, "alice")
	req.NotContains(registry.rooms["global"], "alice")
}

func TestRouter_Serve_UnexpectedErrorStillCleansUp(t *testing.T) {
	req := require.New(t)
	st := &fakeStore{}
	router, registry := newTestRouter(st)

	conn := &erroringConn{err: errors.New("connection reset by peer")}
	registry.Connect(conn, "alice", "global")

	router.Serve(conn, "alice", "global")

	req.NotContains(registry.connections, "alice")
}

type erroringConn struct {
	stubHandle
	err error
}

func (c *erroringConn) ReadFrame() ([]byte, error) { return nil, c.err }

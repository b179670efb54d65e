package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nkoval/parlor/internal/core"
	"github.com/nkoval/parlor/internal/domain"
)

type fakeConn struct {
	ch   chan core.Frame
	fail atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{ch: make(chan core.Frame, 32)}
}

func (f *fakeConn) TrySend(b core.Frame) error {
	if f.fail.Load() {
		return errors.New("send refused")
	}
	select {
	case f.ch <- b:
		return nil
	default:
		return errors.New("buffer full")
	}
}

func (f *fakeConn) Close() {}

// event covers every envelope the coordinator emits.
type event struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Message string   `json:"message"`
	Users   []string `json:"users"`
}

func recvEvent(t *testing.T, f *fakeConn) event {
	t.Helper()
	select {
	case b := <-f.ch:
		var ev event
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("bad event %s: %v", b, err)
		}
		return ev
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no event received")
	}
	return event{}
}

func expectSilence(t *testing.T, f *fakeConn) {
	t.Helper()
	select {
	case b := <-f.ch:
		t.Fatalf("unexpected event: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewRooms(domain.CodeLength, 100), NewRegistry(), KickSlowPolicy{})
}

var connSeq atomic.Int64

func connect(t *testing.T, c *Coordinator, code domain.RoomCode, name string) (core.ConnID, *fakeConn) {
	t.Helper()
	cid := core.ConnID(fmt.Sprintf("conn-%d", connSeq.Add(1)))
	conn := newFakeConn()
	c.BindSession(cid, code, name, conn, nil)
	if !c.OnConnect(cid) {
		t.Fatalf("join failed for %s in %s", name, code)
	}
	return cid, conn
}

func TestJoin_FirstMemberGetsOwnUserList(t *testing.T) {
	c := newTestCoordinator()
	code, err := c.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	_, alice := connect(t, c, code, "Alice")

	ev := recvEvent(t, alice)
	if ev.Type != "user_list" || !reflect.DeepEqual(ev.Users, []string{"Alice"}) {
		t.Errorf("got %+v, want user_list [Alice]", ev)
	}
	expectSilence(t, alice)
}

func TestJoin_AnnouncesDistinctNamesOnly(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	_, alice1 := connect(t, c, code, "Alice")
	_, alice2 := connect(t, c, code, "Alice")
	_, bob := connect(t, c, code, "Bob")
	for _, conn := range []*fakeConn{alice1, alice2, bob} {
		for len(conn.ch) > 0 {
			<-conn.ch
		}
	}

	_, carol := connect(t, c, code, "Carol")

	// Alice has two connections but one distinct name: exactly two enter
	// notices go out, one for Alice and one for Bob.
	for _, conn := range []*fakeConn{alice1, alice2, bob} {
		first := recvEvent(t, conn)
		second := recvEvent(t, conn)
		if first.Name != "Alice" || first.Message != "has entered the room" {
			t.Errorf("first notice = %+v", first)
		}
		if second.Name != "Bob" || second.Message != "has entered the room" {
			t.Errorf("second notice = %+v", second)
		}
		expectSilence(t, conn)
	}

	// The joiner sees the notices too, then privately gets the user list.
	recvEvent(t, carol)
	recvEvent(t, carol)
	ev := recvEvent(t, carol)
	if ev.Type != "user_list" || !reflect.DeepEqual(ev.Users, []string{"Alice", "Bob", "Carol"}) {
		t.Errorf("got %+v, want user_list [Alice Bob Carol]", ev)
	}
}

func TestJoin_DeadRoomUnbindsSilently(t *testing.T) {
	c := newTestCoordinator()

	cid := core.ConnID("conn-dead")
	conn := newFakeConn()
	c.BindSession(cid, "ZZZZ", "Alice", conn, nil)

	if c.OnConnect(cid) {
		t.Fatal("OnConnect reported success for a dead room")
	}
	if _, ok := c.Sessions.Get(cid); ok {
		t.Error("session survived a dead-room connect")
	}
	expectSilence(t, conn)
}

func TestJoinValidate(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	tests := []struct {
		name     string
		code     domain.RoomCode
		joinName string
		want     error
	}{
		{name: "ok", code: code, joinName: "Alice", want: nil},
		{name: "empty name", code: code, joinName: "", want: domain.ErrNameEmpty},
		{name: "empty code", code: "", joinName: "Alice", want: domain.ErrCodeEmpty},
		{name: "unknown code", code: "ZZZZ", joinName: "Alice", want: domain.ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.JoinValidate(tt.code, tt.joinName); !errors.Is(err, tt.want) {
				t.Errorf("JoinValidate(%q, %q) = %v, want %v", tt.code, tt.joinName, err, tt.want)
			}
		})
	}
}

func TestPost_BroadcastsIncludingSenderAndAppends(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	aliceID, alice := connect(t, c, code, "Alice")
	_, bob := connect(t, c, code, "Bob")
	for len(alice.ch) > 0 {
		<-alice.ch
	}
	for len(bob.ch) > 0 {
		<-bob.ch
	}

	c.OnMessage(aliceID, "hi")

	for _, conn := range []*fakeConn{alice, bob} {
		ev := recvEvent(t, conn)
		if ev.Name != "Alice" || ev.Message != "hi" {
			t.Errorf("got %+v, want Alice/hi", ev)
		}
	}

	snap, _ := c.Rooms.Snapshot(code)
	want := []domain.Message{{Name: "Alice", Message: "hi"}}
	if !reflect.DeepEqual(snap.Messages, want) {
		t.Errorf("transcript = %v, want %v", snap.Messages, want)
	}
}

func TestPost_MissingRoomSilentDrop(t *testing.T) {
	c := newTestCoordinator()

	cid := core.ConnID("conn-stale")
	conn := newFakeConn()
	c.BindSession(cid, "GONE", "Alice", conn, nil)

	c.OnMessage(cid, "anyone there")
	expectSilence(t, conn)
}

func TestLeave_NoticePerRemainingEntry(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	aliceID, _ := connect(t, c, code, "Alice")
	_, bob1 := connect(t, c, code, "Bob")
	_, bob2 := connect(t, c, code, "Bob")
	for len(bob1.ch) > 0 {
		<-bob1.ch
	}
	for len(bob2.ch) > 0 {
		<-bob2.ch
	}

	c.OnDisconnect(aliceID)

	// Two literal "Bob" entries remain, so the leave notice goes out twice.
	for _, conn := range []*fakeConn{bob1, bob2} {
		for i := 0; i < 2; i++ {
			ev := recvEvent(t, conn)
			if ev.Name != "Alice" || ev.Message != "has left the room" {
				t.Errorf("got %+v, want Alice left notice", ev)
			}
		}
		expectSilence(t, conn)
	}
}

func TestLeave_SameNameSuppressesEntry(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	alice1ID, _ := connect(t, c, code, "Alice")
	_, alice2 := connect(t, c, code, "Alice")
	_, bob := connect(t, c, code, "Bob")
	for len(alice2.ch) > 0 {
		<-alice2.ch
	}
	for len(bob.ch) > 0 {
		<-bob.ch
	}

	c.OnDisconnect(alice1ID)

	// Remaining entries are [Alice Bob]; the Alice entry matches the leaving
	// name by value and is skipped, so only one notice goes out.
	for _, conn := range []*fakeConn{alice2, bob} {
		ev := recvEvent(t, conn)
		if ev.Name != "Alice" || ev.Message != "has left the room" {
			t.Errorf("got %+v, want Alice left notice", ev)
		}
		expectSilence(t, conn)
	}
}

func TestLeave_LastMemberDeletesRoom(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	cid, conn := connect(t, c, code, "Alice")
	for len(conn.ch) > 0 {
		<-conn.ch
	}

	c.OnDisconnect(cid)

	if c.Rooms.Exists(code) {
		t.Error("room survived its last member")
	}
	expectSilence(t, conn)

	// A second disconnect for the same connection is a no-op.
	c.OnDisconnect(cid)
}

func TestBroadcast_SendFailureKicksMember(t *testing.T) {
	c := newTestCoordinator()
	code, _ := c.CreateRoom()

	aliceID, alice := connect(t, c, code, "Alice")
	bobID, bobConn := connect(t, c, code, "Bob")
	for len(alice.ch) > 0 {
		<-alice.ch
	}
	for len(bobConn.ch) > 0 {
		<-bobConn.ch
	}

	// Bob's connection stalls; the next broadcast to him is refused.
	bobConn.fail.Store(true)

	c.OnMessage(aliceID, "hi")

	// Alice still gets her message; Bob's refused send runs his leave path.
	ev := recvEvent(t, alice)
	if ev.Name != "Alice" || ev.Message != "hi" {
		t.Errorf("got %+v, want Alice/hi", ev)
	}
	ev = recvEvent(t, alice)
	if ev.Name != "Bob" || ev.Message != "has left the room" {
		t.Errorf("got %+v, want Bob left notice", ev)
	}

	if _, ok := c.Sessions.Get(bobID); ok {
		t.Error("kicked member still bound")
	}
	snap, _ := c.Rooms.Snapshot(code)
	if snap.MemberCount != 1 {
		t.Errorf("members = %d, want 1", snap.MemberCount)
	}
}

func TestDisconnect_ConcurrentLeaveRecordedOnce(t *testing.T) {
	// A kick and the connection's own disconnect can both run the leave
	// path for one cid; only one of them may record the leave, or the
	// second decrement empties the room under its remaining members.
	for trial := 0; trial < 200; trial++ {
		c := newTestCoordinator()
		code, _ := c.CreateRoom()
		_, alice := connect(t, c, code, "Alice")
		bobID, _ := connect(t, c, code, "Bob")
		for len(alice.ch) > 0 {
			<-alice.ch
		}

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.OnDisconnect(bobID)
			}()
		}
		wg.Wait()

		snap, ok := c.Rooms.Snapshot(code)
		if !ok {
			t.Fatalf("trial %d: room deleted with Alice still bound", trial)
		}
		if snap.MemberCount != 1 || len(snap.Usernames) != 1 {
			t.Fatalf("trial %d: members=%d usernames=%v, want Alice alone",
				trial, snap.MemberCount, snap.Usernames)
		}
	}
}

func TestEndToEndScenario(t *testing.T) {
	c := newTestCoordinator()

	code, err := c.CreateRoom()
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	aliceID, alice := connect(t, c, code, "Alice")
	ev := recvEvent(t, alice)
	if ev.Type != "user_list" || !reflect.DeepEqual(ev.Users, []string{"Alice"}) {
		t.Fatalf("got %+v, want user_list [Alice]", ev)
	}

	if err := c.JoinValidate(code, "Bob"); err != nil {
		t.Fatalf("JoinValidate: %v", err)
	}
	bobID, bob := connect(t, c, code, "Bob")

	// Enter notices carry the names already present, not the arrival's.
	ev = recvEvent(t, alice)
	if ev.Name != "Alice" || ev.Message != "has entered the room" {
		t.Fatalf("got %+v, want Alice entered notice", ev)
	}
	recvEvent(t, bob) // the same notice, seen by the joiner
	ev = recvEvent(t, bob)
	if ev.Type != "user_list" || !reflect.DeepEqual(ev.Users, []string{"Alice", "Bob"}) {
		t.Fatalf("got %+v, want user_list [Alice Bob]", ev)
	}

	c.OnMessage(bobID, "hi")
	for _, conn := range []*fakeConn{alice, bob} {
		ev = recvEvent(t, conn)
		if ev.Name != "Bob" || ev.Message != "hi" {
			t.Fatalf("got %+v, want Bob/hi", ev)
		}
	}
	snap, _ := c.Rooms.Snapshot(code)
	if len(snap.Messages) != 1 {
		t.Fatalf("transcript length = %d, want 1", len(snap.Messages))
	}

	c.OnDisconnect(aliceID)
	ev = recvEvent(t, bob)
	if ev.Name != "Alice" || ev.Message != "has left the room" {
		t.Fatalf("got %+v, want Alice left notice", ev)
	}
	snap, _ = c.Rooms.Snapshot(code)
	if snap.MemberCount != 1 {
		t.Fatalf("members = %d, want 1", snap.MemberCount)
	}

	c.OnDisconnect(bobID)
	if c.Rooms.Exists(code) {
		t.Fatal("room still present after last leave")
	}
}

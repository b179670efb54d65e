package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/nkoval/parlor/internal/core"
	"github.com/nkoval/parlor/internal/domain"
)

const (
	enteredNotice = "has entered the room"
	leftNotice    = "has left the room"
)

// messageEvent is the envelope for chat and presence notices,
// broadcast to every member of a room.
type messageEvent struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// userListEvent is sent privately to a joining connection.
type userListEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

// Coordinator runs the join/leave/post protocols over the room registry
// and the session table. It is the only writer of both.
type Coordinator struct {
	Sessions *Registry
	Rooms    *Rooms
	Policy   Policy
}

func NewCoordinator(rooms *Rooms, sessions *Registry, policy Policy) *Coordinator {
	return &Coordinator{Sessions: sessions, Rooms: rooms, Policy: policy}
}

// CreateRoom mints a code and registers an empty room.
func (c *Coordinator) CreateRoom() (domain.RoomCode, error) {
	return c.Rooms.CreateRoom()
}

// JoinValidate checks a join-existing request without mutating anything.
func (c *Coordinator) JoinValidate(code domain.RoomCode, name string) error {
	if err := domain.ValidateName(name); err != nil {
		return err
	}
	if code == "" {
		return domain.ErrCodeEmpty
	}
	if !c.Rooms.Exists(code) {
		return domain.ErrRoomNotFound
	}
	return nil
}

// BindSession associates a live connection with its (room, name) pair.
func (c *Coordinator) BindSession(cid core.ConnID, code domain.RoomCode, name string, conn core.SignalConnection, cancel context.CancelFunc) {
	c.Sessions.Bind(cid, code, name, conn, cancel)
}

func (c *Coordinator) UnbindSession(cid core.ConnID) {
	c.Sessions.Unbind(cid)
}

// OnConnect runs the join protocol for a bound session whose transport just
// became ready. Returns false when the bound room no longer exists, in which
// case the session is torn down silently and the caller should drop the
// connection.
func (c *Coordinator) OnConnect(cid core.ConnID) bool {
	sess, ok := c.Sessions.Get(cid)
	if !ok {
		return false
	}
	existing, users, err := c.Rooms.RecordJoin(sess.Code, sess.Name)
	if err != nil {
		log.Info().Str("module", "app.coordinator").Str("cid", string(cid)).Str("room", string(sess.Code)).Msg("bound room is gone, unbinding")
		c.Sessions.Unbind(cid)
		return false
	}

	// Presence identity is the display name: one notice per distinct
	// existing name, however many connections share it.
	for _, name := range existing {
		if name == sess.Name {
			continue
		}
		c.broadcast(sess.Code, messageEvent{Type: "message", Name: name, Message: enteredNotice})
	}

	c.sendTo(cid, sess.Conn, userListEvent{Type: "user_list", Users: users})
	log.Info().Str("module", "app.coordinator").Str("name", sess.Name).Str("room", string(sess.Code)).Msg("joined room")
	return true
}

// OnMessage posts a chat message from a bound connection. A missing room
// drops the message silently; the presence protocol is best effort.
func (c *Coordinator) OnMessage(cid core.ConnID, text string) {
	sess, ok := c.Sessions.Get(cid)
	if !ok {
		return
	}
	msg := domain.Message{Name: sess.Name, Message: text}
	if !c.Rooms.AppendMessage(sess.Code, msg) {
		return
	}
	c.broadcast(sess.Code, messageEvent{Type: "message", Name: msg.Name, Message: msg.Message})
	log.Debug().Str("module", "app.coordinator").Str("name", sess.Name).Str("room", string(sess.Code)).Msg("message posted")
}

// OnDisconnect runs the leave protocol. Safe to call more than once per
// connection, including concurrently: the session is taken atomically, so
// only one caller records the leave.
func (c *Coordinator) OnDisconnect(cid core.ConnID) {
	sess, ok := c.Sessions.Take(cid)
	if !ok {
		return
	}

	remaining, deleted, ok := c.Rooms.RecordLeave(sess.Code, sess.Name)
	if !ok || deleted {
		// Room already gone or died with this leave; nobody left to tell.
		return
	}

	// One notice per remaining literal username entry. Entries matching the
	// leaving name are skipped by value, which also suppresses the notice
	// when another connection shares the display name.
	for _, name := range remaining {
		if name == sess.Name {
			continue
		}
		c.broadcast(sess.Code, messageEvent{Type: "message", Name: sess.Name, Message: leftNotice})
	}
	log.Info().Str("module", "app.coordinator").Str("name", sess.Name).Str("room", string(sess.Code)).Msg("left room")
}

// broadcast fans an event out to every connection bound to the room. The
// member set is snapshotted under the table lock; sends run outside it and
// never block. A refused send triggers that member's own leave path per
// policy instead of surfacing to the sender.
func (c *Coordinator) broadcast(code domain.RoomCode, v any) core.DeliveryResult {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("broadcast marshal")
		return core.DeliveryResult{}
	}

	res := core.DeliveryResult{}
	for _, m := range c.Sessions.MembersOfRoom(code) {
		if err := m.Session.Conn.TrySend(frame); err != nil {
			res.Dropped = append(res.Dropped, m.CID)
			continue
		}
		res.SentTo++
	}

	if c.Policy != nil {
		for _, cid := range res.Dropped {
			if c.Policy.OnBackPressure(cid) != KickMember {
				continue
			}
			log.Warn().Str("module", "app.coordinator").Str("cid", string(cid)).Msg("send refused, kicking member")
			c.Sessions.Cancel(cid)
			c.OnDisconnect(cid)
		}
	}
	return res
}

func (c *Coordinator) sendTo(cid core.ConnID, conn core.SignalConnection, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Msg("send marshal")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Str("module", "app.coordinator").Str("cid", string(cid)).Msg("private send refused")
	}
}

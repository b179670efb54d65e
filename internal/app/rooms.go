package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nkoval/parlor/internal/core"
	"github.com/nkoval/parlor/internal/domain"
)

// roomState is the registry-owned state of one live room.
// usernames keeps one literal entry per active connection, duplicates allowed.
type roomState struct {
	members   int
	usernames []string
	messages  []domain.Message
}

// Rooms is the registry of live rooms. It is the single shared mutable
// resource of the core: one mutex guards the map and every room's state,
// which also makes code generation's check-then-insert atomic.
type Rooms struct {
	mu           sync.Mutex
	rooms        map[domain.RoomCode]*roomState
	codeLen      int
	codeAttempts int
}

func NewRooms(codeLen, codeAttempts int) *Rooms {
	return &Rooms{
		rooms:        make(map[domain.RoomCode]*roomState),
		codeLen:      codeLen,
		codeAttempts: codeAttempts,
	}
}

// CreateRoom mints a free code and inserts an empty room under it.
func (r *Rooms) CreateRoom() (domain.RoomCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, err := r.freeCode()
	if err != nil {
		return "", err
	}
	r.rooms[code] = &roomState{}
	log.Info().Str("module", "app.rooms").Str("code", string(code)).Msg("room created")
	return code, nil
}

func (r *Rooms) Exists(code domain.RoomCode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[code]
	return ok
}

// Snapshot returns a copy of the room's state, safe to read after the lock
// is released.
func (r *Rooms) Snapshot(code domain.RoomCode) (core.RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return core.RoomSnapshot{}, false
	}
	snap := core.RoomSnapshot{
		Code:        code,
		MemberCount: room.members,
		Usernames:   append([]string(nil), room.usernames...),
		Messages:    append([]domain.Message(nil), room.messages...),
	}
	return snap, true
}

// RecordJoin appends name and increments the member count. It returns the
// distinct names that were present before the join and the deduplicated
// list after it, so the presence protocol's announcements are computed
// atomically with the mutation.
func (r *Rooms) RecordJoin(code domain.RoomCode, name string) (existing, users []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	existing = distinct(room.usernames)
	room.usernames = append(room.usernames, name)
	room.members++
	users = distinct(room.usernames)
	log.Info().Str("module", "app.rooms").Str("code", string(code)).Str("name", name).Int("members", room.members).Msg("join recorded")
	return existing, users, nil
}

// RecordLeave removes one literal occurrence of name and decrements the
// member count. The room is deleted the instant the count reaches zero.
// A leave racing a deletion is a silent no-op (ok=false).
func (r *Rooms) RecordLeave(code domain.RoomCode, name string) (remaining []string, deleted, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, present := r.rooms[code]
	if !present {
		return nil, false, false
	}
	for i, u := range room.usernames {
		if u == name {
			room.usernames = append(room.usernames[:i], room.usernames[i+1:]...)
			break
		}
	}
	room.members--
	if room.members <= 0 {
		delete(r.rooms, code)
		log.Info().Str("module", "app.rooms").Str("code", string(code)).Msg("room deleted, no members left")
		return nil, true, true
	}
	log.Info().Str("module", "app.rooms").Str("code", string(code)).Str("name", name).Int("members", room.members).Msg("leave recorded")
	return append([]string(nil), room.usernames...), false, true
}

// AppendMessage appends to the room's transcript. Best effort: a missing
// room drops the entry without error.
func (r *Rooms) AppendMessage(code domain.RoomCode, msg domain.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return false
	}
	room.messages = append(room.messages, msg)
	return true
}

func (r *Rooms) List() []core.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for code, room := range r.rooms {
		out = append(out, core.RoomInfo{Code: code, MemberCount: room.members})
	}
	return out
}

// distinct deduplicates preserving first-appearance order.
func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

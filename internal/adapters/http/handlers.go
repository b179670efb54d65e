package http

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nkoval/parlor/internal/adapters/signal"
	"github.com/nkoval/parlor/internal/app"
	"github.com/nkoval/parlor/internal/domain"
)

type Handlers struct {
	Coord *app.Coordinator
}

type enterRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// CreateRoom mints a new room and remembers the (room, name) choice in the
// cookie session; the websocket connect picks the pair up from there.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req enterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	if err := domain.ValidateName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code, err := h.Coord.CreateRoom()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if !h.saveSession(c, string(code), req.Name) {
		return
	}
	log.Info().Str("module", "adapters.http").Str("code", string(code)).Str("name", req.Name).Msg("room created")
	c.JSON(http.StatusOK, gin.H{"code": code})
}

// JoinRoom validates a join-existing request and remembers the pair.
func (h *Handlers) JoinRoom(c *gin.Context) {
	var req enterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	if err := h.Coord.JoinValidate(domain.RoomCode(req.Code), req.Name); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if !h.saveSession(c, req.Code, req.Name) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": req.Code})
}

// RoomState returns the bound room's transcript for initial render. A stale
// binding (room died while the user was away) clears the session and reports
// not found, as if the user was never in a live room.
func (h *Handlers) RoomState(c *gin.Context) {
	s := sessions.Default(c)
	code, _ := s.Get(signal.SessionRoomKey).(string)
	name, _ := s.Get(signal.SessionNameKey).(string)
	if code == "" || name == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active room"})
		return
	}

	snap, ok := h.Coord.Rooms.Snapshot(domain.RoomCode(code))
	if !ok {
		s.Clear()
		_ = s.Save()
		c.JSON(http.StatusNotFound, gin.H{"error": domain.ErrRoomNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": snap.Code, "name": name, "messages": snap.Messages})
}

func (h *Handlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Coord.Rooms.List()})
}

// Leave clears the cookie session binding.
func (h *Handlers) Leave(c *gin.Context) {
	s := sessions.Default(c)
	s.Clear()
	if err := s.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) saveSession(c *gin.Context, code, name string) bool {
	s := sessions.Default(c)
	s.Set(signal.SessionRoomKey, code)
	s.Set(signal.SessionNameKey, name)
	if err := s.Save(); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save"})
		return false
	}
	return true
}

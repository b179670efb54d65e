package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nkoval/parlor/internal/app"
	"github.com/nkoval/parlor/internal/config"
	"github.com/nkoval/parlor/internal/core"
	"github.com/nkoval/parlor/internal/domain"
)

// Cookie-session keys shared with the HTTP adapter.
const (
	SessionRoomKey = "room"
	SessionNameKey = "name"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Coord   *app.Coordinator
	cfg     *config.Config
	limiter *messageLimiter
}

func NewController(coord *app.Coordinator, cfg *config.Config) *Controller {
	return &Controller{
		Coord:   coord,
		cfg:     cfg,
		limiter: newMessageLimiter(cfg.MsgRate, cfg.MsgBurst),
	}
}

// WsConn wraps a websocket with a buffered outbound channel so the
// coordinator's fan-out never blocks on a slow socket.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the connection, binds it to the (room, name) pair the
// cookie session carries, and runs the join protocol. A connection with no
// pair bound, or whose room died before it connected, is closed quietly.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	s := sessions.Default(c)
	code, _ := s.Get(SessionRoomKey).(string)
	name, _ := s.Get(SessionNameKey).(string)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	if code == "" || name == "" {
		log.Info().Str("module", "signal").Msg("ws connect without a bound room")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "no room"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	conn := &WsConn{conn: ws, send: make(chan core.Frame, 32)}
	cid := core.ConnID(uuid.NewString())
	connCtx, cancel := context.WithCancel(ctx)

	ctl.Coord.BindSession(cid, domain.RoomCode(code), name, conn, cancel)
	if !ctl.Coord.OnConnect(cid) {
		cancel()
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("room", code).Str("name", name).Msg("ws connected")

	// A kick cancels the context; closing the socket unblocks readPump.
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()
	go ctl.writePump(connCtx, conn)
	go ctl.readPump(connCtx, cid, conn, cancel)
}

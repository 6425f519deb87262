package hub

import (
	"encoding/json"
	"time"

	"github.com/park285/Cheese-Arena/internal/domain"
	"github.com/park285/Cheese-Arena/internal/obslog"
	"github.com/park285/Cheese-Arena/pkg/arenadto"
	"go.uber.org/zap"
)

// Seats identifies the participants so recipients can be told their side.
type Seats struct {
	WhiteID int64
	BlackID int64
}

// SeatsOf copies the participant ids of g.
func SeatsOf(g *domain.Game) *Seats {
	if g == nil {
		return nil
	}
	return &Seats{WhiteID: g.WhiteID, BlackID: g.BlackID}
}

// SideOf relates a user to the seats.
func (s *Seats) SideOf(userID int64) domain.Side {
	switch {
	case userID == 0:
		return domain.SideSpectator
	case userID == s.WhiteID:
		return domain.SideWhite
	case userID == s.BlackID:
		return domain.SideBlack
	}
	return domain.SideSpectator
}

// Message is an outbound notice. When Seats is set each recipient's
// envelope carries yourSide.
type Message struct {
	Type  string
	Data  any
	Seats *Seats
}

// Router delivers messages to registered connections.
type Router struct {
	reg *Registry
	now func() time.Time
}

func NewRouter(reg *Registry) *Router { return &Router{reg: reg, now: time.Now} }

func (rt *Router) encode(msg Message, side domain.Side) ([]byte, error) {
	env := arenadto.Envelope{Type: msg.Type, Data: msg.Data, Timestamp: rt.now().UnixMilli()}
	if msg.Seats != nil {
		env.YourSide = string(side)
	}
	return json.Marshal(env)
}

// Send delivers msg to one connection. Broken transports are unregistered
// and closed; that is reported as false, never as an error.
func (rt *Router) Send(connID string, msg Message) bool {
	c, ok := rt.reg.Lookup(connID)
	if !ok {
		return false
	}
	var side domain.Side
	if msg.Seats != nil {
		side = msg.Seats.SideOf(c.UserID)
	}
	payload, err := rt.encode(msg, side)
	if err != nil {
		obslog.L().Error("hub_encode_failed", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	return rt.deliver(c, payload)
}

func (rt *Router) deliver(c *Conn, payload []byte) bool {
	if err := c.transport.Send(payload); err != nil {
		if _, removed := rt.reg.Unregister(c.ID); removed {
			obslog.L().Info("hub_drop_connection", zap.String("conn_id", c.ID), zap.String("game_code", c.RoomCode), zap.Error(err))
		}
		c.transport.Close("send failed")
		return false
	}
	return true
}

// BroadcastRoom sends msg to every connection of roomCode except exclude
// and returns how many deliveries succeeded.
func (rt *Router) BroadcastRoom(roomCode string, msg Message, exclude string) int {
	encoded := make(map[domain.Side][]byte, 3)
	delivered := 0
	for _, c := range rt.reg.ListByRoom(roomCode) {
		if c.ID == exclude || c.RoomCode != roomCode {
			continue
		}
		var side domain.Side
		if msg.Seats != nil {
			side = msg.Seats.SideOf(c.UserID)
		}
		payload, ok := encoded[side]
		if !ok {
			var err error
			if payload, err = rt.encode(msg, side); err != nil {
				obslog.L().Error("hub_encode_failed", zap.String("type", msg.Type), zap.Error(err))
				return delivered
			}
			encoded[side] = payload
		}
		if rt.deliver(c, payload) {
			delivered++
		}
	}
	return delivered
}

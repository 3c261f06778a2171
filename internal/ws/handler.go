package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emak3/sekigae/internal/assign"
	"github.com/emak3/sekigae/internal/protocol"
	"github.com/emak3/sekigae/internal/registry"
	"github.com/emak3/sekigae/internal/room"
)

const writeTimeout = 3 * time.Second

// Handler upgrades the connection and shuttles frames between the client
// and its current room. One connection is in at most one room at a time;
// joining another room releases the previous one first.
func Handler(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		out := make(chan protocol.ServerMessage, 16)

		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writer(writeCtx, conn, out)

		log.Info("client connected", zap.String("client", clientID))
		defer func() {
			log.Info("client disconnected", zap.String("client", clientID))
			// Covers the current room and any stale holds elsewhere.
			reg.Send(registry.Disconnect{ClientID: clientID})
		}()

		var current *room.Room
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					return
				}
				return
			}

			var cm protocol.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				out <- protocol.ServerMessage{Type: protocol.EvtError, Error: "bad json"}
				continue
			}

			if cm.Type == protocol.CmdJoinRoom {
				if cm.RoomID == "" {
					out <- protocol.ServerMessage{Type: protocol.EvtError, Error: "missing roomId"}
					continue
				}
				if current != nil {
					current.Send(room.ReleaseHolder{ClientID: clientID})
				}
				current = reg.Ensure(cm.RoomID)
				if current == nil {
					return // registry shut down
				}
				current.Send(room.Join{ClientID: clientID, Outbox: out})
				continue
			}

			if current == nil {
				// Commands outside a room are silently ignored, matching
				// the join-first contract.
				continue
			}

			msg, ok := toRoomMsg(cm, clientID)
			if !ok {
				out <- protocol.ServerMessage{Type: protocol.EvtError, Error: "unknown type"}
				continue
			}
			current.Send(msg)
		}
	}
}

func writer(ctx context.Context, conn *websocket.Conn, out <-chan protocol.ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			_ = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
		}
	}
}

func toRoomMsg(cm protocol.ClientMessage, clientID string) (room.Msg, bool) {
	switch cm.Type {
	case protocol.CmdHoldNumber:
		return room.HoldNumber{ClientID: clientID, Number: cm.Number, Timestamp: cm.Timestamp}, true
	case protocol.CmdConfirmNumber:
		return room.ConfirmNumber{ClientID: clientID, Number: cm.Number, Timestamp: cm.Timestamp}, true
	case protocol.CmdReleaseNumber:
		return room.ReleaseNumber{ClientID: clientID, Number: cm.Number}, true
	case protocol.CmdUpdateStudents:
		return room.UpdateStudents{ClientID: clientID, Students: cm.Students}, true
	case protocol.CmdUpdateGridConfig:
		if cm.GridConfig == nil {
			return nil, false
		}
		return room.UpdateGrid{ClientID: clientID, Grid: *cm.GridConfig}, true
	case protocol.CmdUpdateAssignedSeats:
		return room.UpdateAssignedSeats{ClientID: clientID, Seats: cm.AssignedSeats}, true
	case protocol.CmdUpdateAttendanceSettings:
		if cm.AttendanceSettings == nil {
			return nil, false
		}
		return room.UpdateAttendance{ClientID: clientID, Settings: *cm.AttendanceSettings}, true
	case protocol.CmdAssignSeats:
		return room.AssignSeats{ClientID: clientID, Mode: assign.Mode(cm.Mode)}, true
	case protocol.CmdRequestData:
		return room.RequestData{ClientID: clientID}, true
	case protocol.CmdClearAllData:
		return room.ClearAll{ClientID: clientID}, true
	default:
		return nil, false
	}
}

package ws

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-mesh/internal/hub"
	"github.com/isqad/livelook-mesh/internal/protocol"
	"github.com/isqad/livelook-mesh/internal/telemetry"
)

func WsHandler(websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys := make(map[string]interface{})
		keys[connIDSessionKey] = uuid.NewString()

		if err := websocket.HandleRequestWithKeys(w, r, keys); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't handle request")
		}
	}
}

func ConnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		id, _ := session.Keys[connIDSessionKey].(string)
		if id == "" {
			id = uuid.NewString()
		}
		session.Keys[connSessionKey] = &sessionConn{id: id, session: session}

		telemetry.ConnectionOpened()
		log.Debug().Str("service", "ws").Str("conn_id", id).Msg("connection opened")
	}
}

func DisconnectHandler(h *hub.Hub) func(session *melody.Session) {
	return func(session *melody.Session) {
		conn, err := connFromSession(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract connection from session")
			return
		}

		h.Leave(conn)

		telemetry.ConnectionClosed()
		log.Debug().Str("service", "ws").Str("conn_id", conn.ID()).Msg("connection closed")
	}
}

func HandleMessage(h *hub.Hub) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		conn, err := connFromSession(s)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract connection from session")
			return
		}

		rpc, err := protocol.RpcFromReader(bytes.NewReader(msg))
		if err != nil {
			reject(conn, err)
			return
		}

		if err := h.Dispatch(conn, rpc); err != nil {
			reject(conn, err)
		}
	}
}

// reject answers a malformed request with an error rpc. Nothing else changes for the connection.
func reject(conn *sessionConn, err error) {
	log.Warn().Err(err).Str("service", "ws").Str("conn_id", conn.ID()).Msg("request rejected")

	if sendErr := conn.Send(protocol.ErrorRpcFrom(err)); sendErr != nil {
		log.Error().Err(sendErr).Str("service", "ws").Str("conn_id", conn.ID()).Msg("can't send error rpc")
	}
}

type health struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}

func HealthHandler(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(health{
			Status:      "ok",
			Rooms:       h.RoomCount(),
			Connections: h.ConnectionCount(),
		}); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't encode health")
		}
	}
}

package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsFrame — кадр протокола канала уведомлений.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// hub раздаёт события payment_status_update по комнатам заказов.
// Каждое соединение может состоять не более чем в одной комнате.
type hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[*websocket.Conn]struct{}
	conns map[*websocket.Conn]string
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		logger: logger,
		rooms:  make(map[string]map[*websocket.Conn]struct{}),
		conns:  make(map[*websocket.Conn]string),
	}
}

// handleWS обслуживает одно websocket-соединение: принимает сигналы
// join-order и leave-order до закрытия соединения.
func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	defer h.drop(conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f wsFrame
		if err := json.Unmarshal(payload, &f); err != nil {
			h.logger.Warn("malformed websocket frame", zap.Error(err))
			continue
		}

		var orderCode string
		if err := json.Unmarshal(f.Data, &orderCode); err != nil {
			h.logger.Warn("malformed order code", zap.Error(err))
			continue
		}

		switch f.Event {
		case "join-order":
			h.join(conn, orderCode)
		case "leave-order":
			h.leave(conn, orderCode)
		}
	}
}

func (h *hub) join(conn *websocket.Conn, orderCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.conns[conn]; ok && prev != orderCode {
		delete(h.rooms[prev], conn)
	}

	room, ok := h.rooms[orderCode]
	if !ok {
		room = make(map[*websocket.Conn]struct{})
		h.rooms[orderCode] = room
	}
	room[conn] = struct{}{}
	h.conns[conn] = orderCode
}

func (h *hub) leave(conn *websocket.Conn, orderCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.rooms[orderCode], conn)
	if h.conns[conn] == orderCode {
		delete(h.conns, conn)
	}
}

func (h *hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if room, ok := h.conns[conn]; ok {
		delete(h.rooms[room], conn)
		delete(h.conns, conn)
	}
	h.mu.Unlock()

	_ = conn.Close()
}

// publish рассылает событие всем подписчикам комнаты заказа и
// возвращает число получателей.
func (h *hub) publish(orderCode, event string, payload any) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode event payload", zap.Error(err))
		return 0
	}
	msg, err := json.Marshal(wsFrame{Event: event, Data: raw})
	if err != nil {
		h.logger.Error("encode event frame", zap.Error(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for conn := range h.rooms[orderCode] {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Warn("deliver event failed", zap.Error(err))
			continue
		}
		delivered++
	}

	return delivered
}

// Package realtime реализует клиент канала push-уведомлений с комнатами
// по заказам и восстановлением подписки после переподключения.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// События канала.
const (
	EventPaymentStatus = "payment_status_update"

	eventJoinOrder  = "join-order"
	eventLeaveOrder = "leave-order"
)

// Параметры подключения.
const (
	connectTimeout    = 20 * time.Second
	reconnectAttempts = 5
	reconnectDelay    = 1 * time.Second
)

// ErrClosed возвращается, когда Cleanup прерывает подключение,
// выполняющееся в этот момент.
var ErrClosed = errors.New("realtime client is closed")

// Handler обрабатывает данные события канала.
type Handler func(data json.RawMessage)

// Markers описывает сохранённые метки сессии, по которым клиент
// восстанавливает подписку на комнату заказа после переподключения.
type Markers interface {
	Current() (orderCode string, inProgress bool)
}

// frame — кадр протокола канала: имя события и произвольные данные.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type registration struct {
	id      uint64
	handler Handler
}

// Client поддерживает одно логическое соединение с каналом уведомлений.
// Одновременно может быть присоединена не более одной комнаты заказа.
type Client struct {
	url     string
	markers Markers
	logger  *zap.Logger

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool
	currentOrder string
	subs         map[string][]registration
	nextID       uint64

	writeMu sync.Mutex
}

// Subscription — дескриптор одной регистрации обработчика. Cancel
// снимает ровно эту регистрацию и безопасен при повторных вызовах.
type Subscription struct {
	client *Client
	event  string
	id     uint64
}

// Cancel снимает регистрацию обработчика. Нулевой дескриптор игнорируется.
func (s *Subscription) Cancel() {
	if s == nil || s.client == nil {
		return
	}

	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()

	regs := c.subs[s.event]
	for i, reg := range regs {
		if reg.id == s.id {
			c.subs[s.event] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// NewClient создаёт клиент канала по указанному адресу. Схемы http и
// https переписываются на ws и wss, адрес без пути дополняется /ws.
func NewClient(address string, markers Markers, logger *zap.Logger) *Client {
	return &Client{
		url:     normalizeURL(address),
		markers: markers,
		logger:  logger,
		subs:    make(map[string][]registration),
	}
}

// Connect устанавливает соединение с ограниченным числом попыток.
// Вызов идемпотентен: при активном соединении возвращается nil. После
// Cleanup клиент подключается заново с чистым набором подписок. После
// успешного подключения клиент присоединяется к комнате заказа из
// сохранённых меток, если оплата не была завершена.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.connected {
		c.closed = false
	}
	c.mu.Unlock()

	return c.connect(ctx)
}

// connect выполняет серию попыток подключения, не сбрасывая признак
// закрытия: фоновое переподключение не оживляет закрытый клиент.
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var conn *websocket.Conn
	backoff := retry.WithMaxRetries(reconnectAttempts-1, retry.NewConstant(reconnectDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
		wsConn, _, dialErr := dialer.DialContext(ctx, c.url, nil)
		if dialErr != nil {
			return retry.RetryableError(dialErr)
		}
		conn = wsConn
		return nil
	})
	if err != nil {
		c.logger.Error("realtime connect failed", zap.String("url", c.url), zap.Error(err))
		return err
	}

	c.mu.Lock()
	if c.closed || c.connected {
		// Клиент закрыли или параллельный Connect успел раньше.
		closed := c.closed
		c.mu.Unlock()
		_ = conn.Close()
		if closed {
			return ErrClosed
		}
		return nil
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)

	c.rejoinFromMarkers()

	return nil
}

// IsConnected сообщает, установлено ли соединение. Побочных эффектов нет.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// JoinOrder присоединяется к комнате заказа. Требует установленного
// соединения. Если присоединена другая комната, клиент сначала покидает её.
func (c *Client) JoinOrder(orderCode string) bool {
	if !c.IsConnected() {
		c.logger.Error("join order failed: channel is not connected", zap.String("order", orderCode))
		return false
	}

	c.mu.Lock()
	prev := c.currentOrder
	c.mu.Unlock()

	if prev != "" && prev != orderCode {
		c.LeaveOrder(prev)
	}

	if err := c.emit(eventJoinOrder, orderCode); err != nil {
		c.logger.Error("join order failed", zap.String("order", orderCode), zap.Error(err))
		return false
	}

	c.mu.Lock()
	c.currentOrder = orderCode
	c.mu.Unlock()

	return true
}

// LeaveOrder покидает комнату заказа. Без соединения вызов игнорируется.
// Метка текущей комнаты сбрасывается, только если код совпадает.
func (c *Client) LeaveOrder(orderCode string) {
	if !c.IsConnected() {
		return
	}

	if err := c.emit(eventLeaveOrder, orderCode); err != nil {
		c.logger.Warn("leave order failed", zap.String("order", orderCode), zap.Error(err))
	}

	c.mu.Lock()
	if c.currentOrder == orderCode {
		c.currentOrder = ""
	}
	c.mu.Unlock()
}

// Subscribe регистрирует обработчик события и возвращает дескриптор для
// снятия регистрации. Повторные подписки одного обработчика независимы.
func (c *Client) Subscribe(event string, h Handler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	c.subs[event] = append(c.subs[event], registration{id: c.nextID, handler: h})

	return &Subscription{client: c, event: event, id: c.nextID}
}

// Cleanup снимает все регистрации, покидает текущую комнату и закрывает
// соединение. Повторные вызовы ничего не делают, новый Connect начинает
// свежий жизненный цикл клиента.
func (c *Client) Cleanup() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true

	order := c.currentOrder
	conn := c.conn
	connected := c.connected

	c.currentOrder = ""
	c.subs = make(map[string][]registration)
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if connected && conn != nil {
		if order != "" {
			c.writeFrame(conn, eventLeaveOrder, order)
		}
		_ = conn.Close()
	}
}

// CurrentOrder возвращает код присоединённой комнаты, если она есть.
func (c *Client) CurrentOrder() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.currentOrder
}

// emit отправляет кадр с событием по текущему соединению.
func (c *Client) emit(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return errors.New("not connected")
	}

	return c.writeFrame(conn, event, data)
}

func (c *Client) writeFrame(conn *websocket.Conn, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(frame{Event: event, Data: raw})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return conn.WriteMessage(websocket.TextMessage, payload)
}

// readLoop читает кадры соединения и раздаёт их обработчикам.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			c.logger.Warn("malformed channel frame", zap.Error(err))
			continue
		}

		c.dispatch(f.Event, f.Data)
	}
}

// handleDisconnect фиксирует обрыв соединения и запускает новую серию
// попыток подключения, если клиент не был закрыт явно.
func (c *Client) handleDisconnect(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Соединение уже заменено или закрыто через Cleanup.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.Warn("realtime connection lost", zap.Error(err))

	go func() {
		if err := c.connect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Error("realtime reconnect failed", zap.Error(err))
		}
	}()
}

// rejoinFromMarkers восстанавливает подписку на комнату заказа по
// сохранённым меткам незавершённой оплаты.
func (c *Client) rejoinFromMarkers() {
	if c.markers == nil {
		return
	}

	orderCode, inProgress := c.markers.Current()
	if orderCode == "" || !inProgress {
		return
	}

	if c.JoinOrder(orderCode) {
		c.logger.Info("rejoined order room after reconnect", zap.String("order", orderCode))
	}
}

// dispatch вызывает обработчики события по снимку регистраций.
func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	regs := c.subs[event]
	handlers := make([]Handler, len(regs))
	for i, reg := range regs {
		handlers[i] = reg.handler
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.call(event, h, data)
	}
}

func (c *Client) call(event string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()

	h(data)
}

// normalizeURL приводит адрес канала к websocket-схеме и пути /ws.
func normalizeURL(address string) string {
	raw := address
	switch {
	case strings.HasPrefix(raw, "http://"):
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	case !strings.HasPrefix(raw, "ws://") && !strings.HasPrefix(raw, "wss://"):
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}

	return u.String()
}

package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/bmstu-itstech/bitbattle/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Время ожидания записи в WebSocket
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping клиенту
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер сообщения от клиента (снимки кода)
	maxMessageSize = 64 * 1024
)

// outboundFrame - кадр в исходящей очереди. Критичные кадры никогда не
// выбрасываются: переполнение очереди на критичном кадре закрывает сокет.
type outboundFrame struct {
	data     []byte
	critical bool
}

// Client представляет один WebSocket сокет (участник или зритель).
// Исходящая очередь ограничена; при переполнении первым выбрасывается самый
// старый некритичный кадр, чтобы медленный клиент не тормозил соседей.
type Client struct {
	conn      *websocket.Conn
	username  string
	spectator bool

	mu       sync.Mutex
	queue    []outboundFrame
	queueCap int
	notify   chan struct{}
	closed   bool

	limiter   *rate.Limiter // входящий rate limit на code_change
	closeOnce sync.Once
	done      chan struct{}
	log       *logger.Logger

	// OnFrame вызывается из read pump на каждый разобранный входящий кадр
	OnFrame func(c *Client, frameType string, data json.RawMessage)
	// OnClose вызывается ровно один раз при закрытии сокета
	OnClose func(c *Client)
}

// NewClient создаёт нового клиента поверх установленного соединения
func NewClient(conn *websocket.Conn, username string, spectator bool, queueCap int, codeChangeRPS, codeChangeBurst int, log *logger.Logger) *Client {
	if queueCap < 1 {
		queueCap = 64
	}
	return &Client{
		conn:      conn,
		username:  username,
		spectator: spectator,
		queueCap:  queueCap,
		notify:    make(chan struct{}, 1),
		limiter:   rate.NewLimiter(rate.Limit(codeChangeRPS), codeChangeBurst),
		done:      make(chan struct{}),
		log:       log,
	}
}

// Username возвращает имя, под которым сокет вошёл в комнату
func (c *Client) Username() string {
	return c.username
}

// Spectator сообщает, является ли сокет зрителем
func (c *Client) Spectator() bool {
	return c.spectator
}

// Enqueue ставит кадр в исходящую очередь. Возвращает false, если сокет
// пришлось закрыть (переполнение на критичном кадре) или он уже закрыт.
func (c *Client) Enqueue(data []byte, critical bool) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}

	if len(c.queue) >= c.queueCap {
		if critical {
			// Критичный кадр терять нельзя - медленный сокет выбывает
			c.mu.Unlock()
			c.log.Info("Outbound queue overflow on critical frame, closing socket",
				zap.String("username", c.username),
			)
			c.Close()
			return false
		}
		if !c.dropOldestDroppable() {
			// Вся очередь критичная - жертвуем новым кадром
			c.mu.Unlock()
			return true
		}
	}

	c.queue = append(c.queue, outboundFrame{data: data, critical: critical})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// dropOldestDroppable выбрасывает самый старый некритичный кадр; вызывается под mu
func (c *Client) dropOldestDroppable() bool {
	for i, f := range c.queue {
		if !f.critical {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// SendFrame сериализует и ставит кадр в очередь
func (c *Client) SendFrame(frameType string, payload interface{}, critical bool) bool {
	data, err := Marshal(frameType, payload)
	if err != nil {
		c.log.LogError("Failed to marshal frame", err, zap.String("type", frameType))
		return false
	}
	return c.Enqueue(data, critical)
}

// SendError отправляет error кадр; соединение остаётся открытым
func (c *Client) SendError(message string, code int) {
	c.SendFrame(FrameError, ErrorPayload{Message: message, Code: code}, true)
}

// Close закрывает сокет ровно один раз
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.conn != nil {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
		}
		close(c.done)

		if c.OnClose != nil {
			c.OnClose(c)
		}
	})
}

// ReadPump читает и разбирает входящие кадры; блокирует до закрытия сокета
func (c *Client) ReadPump() {
	defer c.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.log.Info("WebSocket read error",
					zap.Error(err),
					zap.String("username", c.username),
				)
			}
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.SendError("malformed frame", 400)
			continue
		}

		if frame.Type == FrameCodeChange && !c.limiter.Allow() {
			// Защита от штормов fanout: лишние снимки кода молча выбрасываются
			continue
		}

		if c.OnFrame != nil {
			c.OnFrame(c, frame.Type, frame.Data)
		}
	}
}

// WritePump сливает исходящую очередь в сокет; блокирует до закрытия
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case <-c.notify:
			for {
				frame, ok := c.dequeue()
				if !ok {
					break
				}
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dequeue снимает первый кадр очереди
func (c *Client) dequeue() (outboundFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return outboundFrame{}, false
	}
	frame := c.queue[0]
	c.queue = c.queue[1:]
	return frame, true
}

// QueueLen возвращает текущую глубину исходящей очереди
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

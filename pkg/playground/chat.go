package playground

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codekids/pyquest/pkg/auth"
	"github.com/codekids/pyquest/pkg/celebrate"
	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/lessons"
	"github.com/codekids/pyquest/pkg/logger"
	"github.com/codekids/pyquest/pkg/minipy"
	"github.com/codekids/pyquest/pkg/shared"
)

// WebSocket settings from the [Network] section.
func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 60*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 16) * 1024)
}

func getSendBuffer() int {
	return configuration.GetInt("Network", "send_buffer", 256)
}

// inboxSize is how many client messages may wait while a reply is streaming.
const inboxSize = 8

// chatClient is one chat connection. The read pump only decodes frames; a
// separate goroutine runs programs so that paced output never stalls pongs.
type chatClient struct {
	server    *Server
	conn      *websocket.Conn
	sessionID string
	lessonID  string // default for run messages without lessonId

	send  chan []byte
	inbox chan shared.Message
	done  chan struct{}

	// Owned by process.
	lesson  *lessons.Lesson
	interp  *minipy.Interpreter
	pending *minipy.Suspension
	sent    int
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.GetSessionIDFromContext(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WebSocketWarn("upgrade failed for session %s: %v", sessionID, err)
		return
	}
	c := &chatClient{
		server:    s,
		conn:      conn,
		sessionID: sessionID,
		lessonID:  r.URL.Query().Get("lesson"),
		send:      make(chan []byte, getSendBuffer()),
		inbox:     make(chan shared.Message, inboxSize),
		done:      make(chan struct{}),
	}
	logger.WebSocketInfo("chat opened for session %s from %s", sessionID, conn.RemoteAddr())

	go c.writePump()
	go c.process()
	c.readPump()
}

func (c *chatClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
		logger.WebSocketInfo("chat closed for session %s", c.sessionID)
	}()

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.WebSocketWarn("unexpected close for session %s: %v", c.sessionID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg shared.Message
		if err := json.Unmarshal(data, &msg); err != nil || !shared.IsClientType(msg.Type) {
			logger.WebSocketDebug("ignoring malformed frame from session %s", c.sessionID)
			c.notify(shared.Message{Type: shared.MessageTypeError, Text: "I did not understand that message."})
			continue
		}
		select {
		case c.inbox <- msg:
		default:
			c.notify(shared.Message{Type: shared.MessageTypeError, Text: "Wait a moment, I am still talking!"})
		}
	}
}

func (c *chatClient) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.WebSocketWarn("write to session %s failed: %v", c.sessionID, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.WebSocketError("ping to session %s failed: %v", c.sessionID, err)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue hands a message to the write pump. It returns false once the
// connection is gone.
func (c *chatClient) enqueue(msg shared.Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.WebSocketError("could not encode %s message: %v", msg.Type, err)
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

// notify is enqueue without blocking, for the read pump. The message is
// dropped when the send buffer is full.
func (c *chatClient) notify(msg shared.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.WebSocketWarn("send buffer full for session %s, dropping %s message", c.sessionID, msg.Type)
	}
}

func (c *chatClient) process() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.inbox:
			c.handle(msg)
		}
	}
}

func (c *chatClient) handle(msg shared.Message) {
	switch msg.Type {
	case shared.MessageTypeRun:
		id := msg.LessonID
		if id == "" {
			id = c.lessonID
		}
		lesson, err := c.server.catalog.Get(id)
		if err != nil {
			c.enqueue(shared.Message{Type: shared.MessageTypeError, Text: "That lesson does not exist."})
			return
		}
		c.lesson = lesson
		c.interp = lesson.Interpreter()
		c.pending = nil
		c.sent = 0
		logger.Info(logger.AreaLessons, "session %s started chat run of %s", c.sessionID, lesson.ID)
		c.deliver(c.interp.Run(msg.Source))

	case shared.MessageTypeInput:
		if c.pending == nil {
			c.enqueue(shared.Message{Type: shared.MessageTypeError, Text: "Nobody asked a question yet. Run your program first!"})
			return
		}
		susp := c.pending
		c.pending = nil
		res, err := c.interp.Resume(susp, msg.Text)
		if err != nil {
			logger.Warn(logger.AreaLessons, "chat resume failed for session %s: %v", c.sessionID, err)
			c.enqueue(shared.Message{Type: shared.MessageTypeError, Text: "The program cannot continue. Run it again!"})
			return
		}
		c.deliver(res)
	}
}

// deliver streams the lines the client has not seen yet, one per pacing
// delay, and then tells how the run stands.
func (c *chatClient) deliver(res *minipy.Result) {
	end := len(res.Output)
	if res.Status == minipy.StatusWaiting && res.Prompt != "" {
		end-- // the prompt goes out as its own message
	}
	delay := c.server.chatDelay(c.lesson)
	for i := c.sent; i < end; i++ {
		if i > c.sent && !c.pause(delay) {
			return
		}
		if !c.enqueue(shared.Message{Type: shared.MessageTypeOutput, Text: res.Output[i]}) {
			return
		}
	}
	c.sent = len(res.Output)

	switch res.Status {
	case minipy.StatusWaiting:
		c.pending = res.Suspension
		if end > 0 && !c.pause(delay) {
			return
		}
		c.enqueue(shared.Message{Type: shared.MessageTypePrompt, Text: res.Prompt})
	case minipy.StatusFailed:
		msg := shared.Message{Type: shared.MessageTypeError, Error: res.Error}
		if res.Failure != nil {
			msg.Line = res.Failure.Line
		}
		c.enqueue(msg)
	case minipy.StatusFinished:
		check := lessons.Check(c.lesson, res)
		msg := shared.Message{Type: shared.MessageTypeDone, Passed: check.Passed}
		if check.Passed {
			msg.Celebration = c.server.celebrate(c.sessionID, celebrate.KindLessonComplete)
		}
		c.enqueue(msg)
	}
}

// pause waits d and reports whether the connection is still open.
func (c *chatClient) pause(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-c.done:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.done:
		return false
	}
}

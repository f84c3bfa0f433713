package hmi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// statusEvent is the pushed status frame.
type statusEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsCommand is an inbound command frame.
type wsCommand struct {
	ID    any     `json:"id,omitempty"`
	Cmd   string  `json:"cmd"`
	Axis  string  `json:"axis,omitempty"`
	Steps float64 `json:"steps,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// wsReply answers one command.
type wsReply struct {
	ID     any    `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

// send queues a message, dropping it if the client is slow. A dropped
// status frame is harmless since the next broadcast replaces it.
func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.logger.Debug("hmi client %d slow, frame dropped", c.id)
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("hmi client %d read error: %v", c.id, err)
			}
			return
		}
		c.handleCommand(data)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) handleCommand(data []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.send(wsReply{Error: "malformed command"})
		return
	}

	ctl := c.server.ctl
	switch cmd.Cmd {
	case "status":
		c.send(wsReply{ID: cmd.ID, Result: ctl.Status()})
	case "start":
		if err := ctl.Start(); err != nil {
			c.send(wsReply{ID: cmd.ID, Error: err.Error()})
			return
		}
		c.send(wsReply{ID: cmd.ID, Result: "running"})
	case "stop":
		ctl.Stop()
		c.send(wsReply{ID: cmd.ID, Result: "stopped"})
	case "estop":
		ctl.Estop()
		c.send(wsReply{ID: cmd.ID, Result: "estopped"})
	case "clear_estop":
		ctl.ClearEstop()
		c.send(wsReply{ID: cmd.ID, Result: "cleared"})
	case "move":
		if _, err := ctl.Move(cmd.Axis, cmd.Steps); err != nil {
			c.send(wsReply{ID: cmd.ID, Error: err.Error()})
			return
		}
		c.send(wsReply{ID: cmd.ID, Result: "moving"})
	case "jog":
		if _, err := ctl.Jog(cmd.Axis, cmd.Speed, cmd.Steps); err != nil {
			c.send(wsReply{ID: cmd.ID, Error: err.Error()})
			return
		}
		c.send(wsReply{ID: cmd.ID, Result: "jogging"})
	case "cancel":
		if err := ctl.CancelMove(cmd.Axis); err != nil {
			c.send(wsReply{ID: cmd.ID, Error: err.Error()})
			return
		}
		c.send(wsReply{ID: cmd.ID, Result: "cancelled"})
	default:
		c.send(wsReply{ID: cmd.ID, Error: "unknown command: " + cmd.Cmd})
	}
}

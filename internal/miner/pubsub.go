package miner

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lxzan/gws"
	"go.uber.org/zap"
)

const (
	pubsubAddr         = "wss://pubsub-edge.twitch.tv/v1"
	pubsubPingInterval = 4 * time.Minute
)

// dropEvents listens on the platform's PubSub socket for drop-progress
// events, keeping minute counts current between inventory refreshes.
type dropEvents struct {
	worker    *Worker
	authToken string
	log       *zap.Logger

	// conn is swapped by the reconnect path on the read-loop goroutine
	// while close reads it from the worker's shutdown path.
	mu   sync.Mutex
	conn *gws.Conn

	done chan struct{}
}

type pubsubMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
	Data  struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	} `json:"data"`
}

type dropEventBody struct {
	Type string `json:"type"`
	Data struct {
		DropID             string `json:"drop_id"`
		DropInstanceID     string `json:"drop_instance_id"`
		CurrentProgressMin int    `json:"current_progress_min"`
	} `json:"data"`
}

func newDropEvents(worker *Worker, authToken string, log *zap.Logger) *dropEvents {
	return &dropEvents{
		worker:    worker,
		authToken: authToken,
		log:       log,
		done:      make(chan struct{}),
	}
}

func (d *dropEvents) dial() error {
	conn, _, err := gws.NewClient(d, &gws.ClientOption{Addr: pubsubAddr})
	if err != nil {
		return fmt.Errorf("connecting to pubsub: %w", err)
	}
	d.setConn(conn)

	go conn.ReadLoop()
	go d.pingLoop(conn)
	return nil
}

func (d *dropEvents) setConn(conn *gws.Conn) {
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
}

func (d *dropEvents) close() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}

	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		conn.WriteClose(1000, []byte("worker stopped"))
	}
}

func (d *dropEvents) pingLoop(conn *gws.Conn) {
	ticker := time.NewTicker(pubsubPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			if err := conn.WriteString(`{"type":"PING"}`); err != nil {
				d.log.Debug("pubsub ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (d *dropEvents) OnOpen(conn *gws.Conn) {
	listen := map[string]any{
		"type":  "LISTEN",
		"nonce": fmt.Sprintf("%d", rand.Int63()),
		"data": map[string]any{
			"topics":     []string{fmt.Sprintf("user-drop-events.%d", d.worker.UserID)},
			"auth_token": d.authToken,
		},
	}
	payload, _ := json.Marshal(listen)
	if err := conn.WriteString(string(payload)); err != nil {
		d.log.Warn("pubsub listen failed", zap.Error(err))
		return
	}
	d.log.Debug("listening for drop events", zap.Int64("user_id", d.worker.UserID))
}

func (d *dropEvents) OnClose(conn *gws.Conn, err error) {
	select {
	case <-d.done:
	default:
		d.log.Debug("pubsub connection closed", zap.Error(err))
	}
}

func (d *dropEvents) OnPing(conn *gws.Conn, payload []byte) {
	conn.WritePong(payload)
}

func (d *dropEvents) OnPong(conn *gws.Conn, payload []byte) {
}

func (d *dropEvents) OnMessage(conn *gws.Conn, message *gws.Message) {
	defer message.Close()

	var msg pubsubMessage
	if err := json.Unmarshal(message.Data.Bytes(), &msg); err != nil {
		return
	}

	switch msg.Type {
	case "PONG", "RESPONSE":
		if msg.Error != "" {
			d.log.Warn("pubsub listen rejected", zap.String("error", msg.Error))
		}
	case "RECONNECT":
		conn.WriteClose(1000, []byte("reconnect requested"))
		if err := d.dial(); err != nil {
			d.log.Warn("pubsub reconnect failed", zap.Error(err))
		}
	case "MESSAGE":
		d.handleEvent(msg.Data.Message)
	default:
		d.log.Debug("unknown pubsub message type", zap.String("type", msg.Type))
	}
}

func (d *dropEvents) handleEvent(raw string) {
	var event dropEventBody
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return
	}

	// Events arrive on the read-loop goroutine; inventory access is
	// serialized through the worker lock.
	w := d.worker
	w.mu.Lock()
	defer w.mu.Unlock()

	var drop *TimedDrop
	for _, campaign := range w.inventory {
		if found, ok := campaign.Drops[event.Data.DropID]; ok {
			drop = found
			break
		}
	}
	if drop == nil {
		return
	}

	switch event.Type {
	case "drop-progress":
		if !drop.Claimed && event.Data.CurrentProgressMin > drop.CurrentMinutes {
			drop.CurrentMinutes = event.Data.CurrentProgressMin
			d.log.Debug("drop progress",
				zap.String("drop", drop.ID),
				zap.Int("minutes", drop.CurrentMinutes))
		}
	case "drop-claim":
		drop.ClaimID = event.Data.DropInstanceID
		d.log.Info("drop ready to claim", zap.String("drop", drop.ID))
	}
}

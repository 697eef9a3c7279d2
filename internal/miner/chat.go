package miner

import (
	"sync"

	irc "github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"
)

// chatPresence keeps an anonymous IRC connection joined to whichever
// channel is being watched, the way a real viewer keeps chat open.
// Chat failures never affect the watch loop.
type chatPresence struct {
	client  *irc.Client
	connect func() error
	log     *zap.Logger

	mu        sync.Mutex
	joined    string
	connected bool
}

func newChatPresence(log *zap.Logger) *chatPresence {
	p := &chatPresence{
		client: irc.NewAnonymousClient(),
		log:    log,
	}
	p.connect = p.client.Connect
	return p
}

func (p *chatPresence) join(channel string) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.joined == channel {
		return
	}
	if p.joined != "" {
		p.client.Depart(p.joined)
	}

	p.client.Join(channel)
	p.joined = channel
	p.log.Debug("joined chat", zap.String("channel", channel))

	if !p.connected {
		p.connected = true
		go func() {
			if err := p.connect(); err != nil {
				p.log.Debug("chat connection failed", zap.Error(err))
				p.mu.Lock()
				p.connected = false
				p.mu.Unlock()
			}
		}()
	}
}

// part departs the given channel. A stale caller whose channel was
// already handed over to another join is a no-op, so an unwinding watch
// task can never kick the presence off its successor's channel.
func (p *chatPresence) part(channel string) {
	if p == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.joined == channel {
		p.client.Depart(channel)
		p.joined = ""
	}
}

func (p *chatPresence) close() {
	if p == nil {
		return
	}

	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()

	if connected {
		p.client.Disconnect()
	}
}

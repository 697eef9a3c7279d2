package miner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/twitch"
)

// Config is the per-account configuration the worker is built from.
// Credential fields mirror the account store; header overrides fall back
// to the shared headers file before reaching here.
type Config struct {
	Username        string
	AuthToken       string
	Cookies         string
	Proxy           string
	PriorityGames   []string
	ExcludeGames    []string
	DeviceID        string
	ClientIntegrity string
	ClientVersion   string
}

// api is the slice of the session the miner needs. Tests substitute a fake.
type api interface {
	GQL(ctx context.Context, op twitch.GQLOperation, out any) error
	Do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error)
}

// Worker drives drops farming for a single account: one session, one
// campaign inventory, one channel map and at most one watch loop at a time.
type Worker struct {
	api     api
	session *twitch.Session
	log     *zap.Logger

	Username string
	UserID   int64

	priority []string
	exclude  map[string]struct{}

	chat   *chatPresence
	events *dropEvents

	mu          sync.Mutex
	inventory   []*DropsCampaign
	channels    map[int64]*Channel
	watching    *Channel
	cancelWatch context.CancelFunc

	stopped atomic.Bool
}

func New(cfg Config, log *zap.Logger) (*Worker, error) {
	log = log.With(zap.String("account", cfg.Username))

	session, err := twitch.NewSession(twitch.Credentials{
		Username:        cfg.Username,
		AuthToken:       cfg.AuthToken,
		Cookies:         cfg.Cookies,
		Proxy:           cfg.Proxy,
		DeviceID:        cfg.DeviceID,
		ClientIntegrity: cfg.ClientIntegrity,
		ClientVersion:   cfg.ClientVersion,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	exclude := make(map[string]struct{}, len(cfg.ExcludeGames))
	for _, name := range cfg.ExcludeGames {
		exclude[name] = struct{}{}
	}

	return &Worker{
		api:      session,
		session:  session,
		log:      log,
		Username: cfg.Username,
		priority: cfg.PriorityGames,
		exclude:  exclude,
		channels: make(map[int64]*Channel),
		chat:     newChatPresence(log),
	}, nil
}

// Init validates the session and resolves the account identity. An
// invalid or expired credential is a hard failure. With an auth token
// configured, the drop-events listener is started as well.
func (w *Worker) Init(ctx context.Context) error {
	if err := w.session.Validate(ctx); err != nil {
		return err
	}

	w.UserID = w.session.UserID
	if w.Username == "" {
		w.Username = w.session.Login
	}

	if token := w.session.AuthToken(); token != "" {
		w.events = newDropEvents(w, token, w.log)
		if err := w.events.dial(); err != nil {
			w.log.Warn("drop-events listener unavailable", zap.Error(err))
			w.events = nil
		}
	}

	return nil
}

// Stop tears the worker down: the watch task is cancelled without
// waiting, background listeners are closed and the session released.
func (w *Worker) Stop() {
	w.stopped.Store(true)

	w.mu.Lock()
	if w.cancelWatch != nil {
		w.cancelWatch()
		w.cancelWatch = nil
	}
	w.watching = nil
	w.mu.Unlock()

	if w.events != nil {
		w.events.close()
	}
	if w.chat != nil {
		w.chat.close()
	}
	if w.session != nil {
		w.session.Close()
	}
	w.log.Info("worker stopped")
}

// SetPriorityGames replaces the game priority list used for channel
// discovery.
func (w *Worker) SetPriorityGames(names []string) {
	w.priority = names
}

// Inventory returns the tracked campaigns from the last refresh.
func (w *Worker) Inventory() []*DropsCampaign {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*DropsCampaign, len(w.inventory))
	copy(out, w.inventory)
	return out
}

// Channels returns the discovered channels from the last search.
func (w *Worker) Channels() []*Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Channel, 0, len(w.channels))
	for _, channel := range w.channels {
		out = append(out, channel)
	}
	return out
}

// Watching returns the currently watched channel, or nil.
func (w *Worker) Watching() *Channel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Worker) findGame(name string) (Game, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, campaign := range w.inventory {
		if campaign.Game.Name == name {
			return campaign.Game, true
		}
	}
	return Game{}, false
}

// fetchText GETs a URL through the resilient request engine and returns
// the response body as text.
func (w *Worker) fetchText(ctx context.Context, url string) (string, error) {
	resp, err := w.api.Do(ctx, http.MethodGet, url, nil, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	return string(body), nil
}

package miner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/twitch"
)

const (
	watchInterval = 60 * time.Second

	usherURL = "https://usher.ttvnw.net/api/channel/hls"
)

// ErrNoSpadeURL means every discovery strategy for the telemetry
// endpoint came up empty.
var ErrNoSpadeURL = errors.New("spade url not found")

var (
	spadeURLPattern    = regexp.MustCompile(`(?i)"spade_?url":\s*"([^"]+)"`)
	edgeSegmentPattern = regexp.MustCompile(`https://video-edge-[^\s"<>]+\.ts(?:\?[^\s"<>]+)?`)
)

// Watch starts simulated viewing of a channel. Watching the same channel
// again is a no-op; otherwise any previous watch task is cancelled
// without waiting and a fresh loop is started.
func (w *Worker) Watch(channel *Channel) {
	w.mu.Lock()
	if w.watching != nil && w.watching.ID == channel.ID {
		w.mu.Unlock()
		return
	}
	if w.cancelWatch != nil {
		w.cancelWatch()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.watching = channel
	w.cancelWatch = cancel
	w.mu.Unlock()

	go w.watchLoop(ctx, channel)
	w.log.Info("watching channel", zap.String("channel", channel.DisplayName))
}

// StopWatching cancels the active watch task, if any, without waiting
// for it to unwind.
func (w *Worker) StopWatching() {
	w.mu.Lock()
	var login string
	if w.watching != nil {
		login = w.watching.Login
	}
	if w.cancelWatch != nil {
		w.cancelWatch()
		w.cancelWatch = nil
	}
	w.watching = nil
	w.mu.Unlock()

	if login != "" {
		w.chat.part(login)
	}
	w.log.Info("stopped watching")
}

func (w *Worker) isCurrent(channel *Channel) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching != nil && w.watching.ID == channel.ID
}

func (w *Worker) watchLoop(ctx context.Context, channel *Channel) {
	defer func() {
		w.mu.Lock()
		if w.watching != nil && w.watching.ID == channel.ID {
			w.watching = nil
		}
		w.mu.Unlock()
	}()

	if !channel.UpdateStream(ctx) {
		w.log.Info("channel is offline", zap.String("channel", channel.DisplayName))
		return
	}

	w.chat.join(channel.Login)
	defer w.chat.part(channel.Login)

	for !w.stopped.Load() && w.isCurrent(channel) && ctx.Err() == nil {
		if channel.sendWatch(ctx) {
			w.log.Info("watch event sent",
				zap.String("channel", channel.DisplayName),
				zap.Duration("next_in", watchInterval))
		} else {
			w.log.Warn("watch event failed, will retry next interval",
				zap.String("channel", channel.DisplayName))
		}

		timer := time.NewTimer(watchInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// UpdateStream refreshes the channel's live broadcast metadata and
// reports whether the channel is currently live.
func (c *Channel) UpdateStream(ctx context.Context) bool {
	var data struct {
		User struct {
			Stream *struct {
				ID string `json:"id"`
			} `json:"stream"`
			BroadcastSettings struct {
				Game *gameData `json:"game"`
			} `json:"broadcastSettings"`
		} `json:"user"`
	}

	err := c.worker.api.GQL(ctx, twitch.Op("GetStreamInfo").WithVariables(map[string]any{
		"channel": c.Login,
	}), &data)
	if err != nil || data.User.Stream == nil {
		c.stream = nil
		return false
	}

	stream := &Stream{BroadcastID: data.User.Stream.ID, channel: c}
	if data.User.BroadcastSettings.Game != nil {
		game := newGame(*data.User.BroadcastSettings.Game)
		stream.Game = &game
	}
	c.stream = stream
	return true
}

// SpadeURL locates the telemetry endpoint for this channel, caching the
// result after the first success. Strategies are tried in order: the
// channel page HTML, the HLS master playlist, and finally a /ping
// endpoint derived from the playlist's stream-chunk URL.
func (c *Channel) SpadeURL(ctx context.Context) (string, error) {
	if c.spadeURL != "" {
		return c.spadeURL, nil
	}

	page, err := c.worker.fetchText(ctx, twitch.BaseURL+"/"+c.Login)
	if err == nil {
		if found := extractSpadeURL(page); found != "" {
			c.worker.log.Info("found spade url in channel page", zap.String("channel", c.Login))
			c.spadeURL = found
			return found, nil
		}
	} else {
		c.worker.log.Debug("channel page fetch failed", zap.String("channel", c.Login), zap.Error(err))
	}

	playlist, err := c.fetchMasterPlaylist(ctx)
	if err != nil {
		c.worker.log.Debug("playlist fallback failed", zap.String("channel", c.Login), zap.Error(err))
		return "", fmt.Errorf("%s: %w", c.Login, ErrNoSpadeURL)
	}

	if found := extractSpadeURL(playlist); found != "" {
		c.worker.log.Info("found spade url in master playlist", zap.String("channel", c.Login))
		c.spadeURL = found
		return found, nil
	}

	if found := deriveSpadeURL(playlist); found != "" {
		c.worker.log.Info("derived spade url from stream chunk", zap.String("channel", c.Login))
		c.spadeURL = found
		return found, nil
	}

	return "", fmt.Errorf("%s: %w", c.Login, ErrNoSpadeURL)
}

// fetchMasterPlaylist requests a signed playback access token over GQL
// and uses it to pull the channel's HLS master playlist.
func (c *Channel) fetchMasterPlaylist(ctx context.Context) (string, error) {
	var data struct {
		StreamPlaybackAccessToken *struct {
			Signature string `json:"signature"`
			Value     string `json:"value"`
		} `json:"streamPlaybackAccessToken"`
	}

	err := c.worker.api.GQL(ctx, twitch.Op("PlaybackAccessToken").WithVariables(map[string]any{
		"login":      c.Login,
		"isLive":     true,
		"vodID":      "",
		"playerType": "site",
	}), &data)
	if err != nil {
		return "", err
	}

	token := data.StreamPlaybackAccessToken
	if token == nil || token.Signature == "" || token.Value == "" {
		return "", fmt.Errorf("no playback access token for %s", c.Login)
	}

	query := url.Values{
		"sig":                        {token.Signature},
		"token":                      {token.Value},
		"allow_source":               {"true"},
		"allow_audio_only":           {"true"},
		"allow_spectre":              {"false"},
		"player":                     {"twitchweb"},
		"playlist_include_framerate": {"true"},
	}
	playlistURL := fmt.Sprintf("%s/%s.m3u8?%s", usherURL, c.Login, query.Encode())

	return c.worker.fetchText(ctx, playlistURL)
}

// extractSpadeURL scans semi-structured text for the telemetry endpoint:
// a quoted spade_url JSON field, or failing that a literal edge-server
// segment URL. First match wins.
func extractSpadeURL(text string) string {
	if match := spadeURLPattern.FindStringSubmatch(text); match != nil {
		return strings.ReplaceAll(match[1], "\\u0025", "%")
	}
	if match := edgeSegmentPattern.FindString(text); match != "" {
		return match
	}
	return ""
}

// deriveSpadeURL builds a /ping endpoint from the playlist's last
// non-comment line when that line is an edge-server stream-chunk URL.
func deriveSpadeURL(playlist string) string {
	lines := strings.Split(strings.TrimSpace(playlist), "\n")
	if len(lines) == 0 {
		return ""
	}

	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" || strings.HasPrefix(last, "#") || !strings.Contains(last, "video-edge-") {
		return ""
	}

	if i := strings.LastIndex(last, "/index"); i >= 0 {
		last = last[:i]
	}
	return last + "/ping"
}

// sendWatch emits one minute-watched event. Any transport error or
// unexpected status counts as failure; the watch loop retries on its
// next tick.
func (c *Channel) sendWatch(ctx context.Context) bool {
	if c.stream == nil {
		c.worker.log.Warn("no stream to report watching for", zap.String("channel", c.Login))
		return false
	}

	spadeURL, err := c.SpadeURL(ctx)
	if err != nil {
		c.worker.log.Warn("spade url discovery failed", zap.String("channel", c.Login), zap.Error(err))
		return false
	}

	payload, err := c.stream.spadePayload(c.worker.UserID)
	if err != nil {
		c.worker.log.Warn("building watch payload failed", zap.Error(err))
		return false
	}

	body := url.Values{"data": {payload}}.Encode()
	resp, err := c.worker.api.Do(ctx, http.MethodPost, spadeURL, []byte(body), http.Header{
		"Content-Type": {"text/plain;charset=UTF-8"},
	})
	if err != nil {
		c.worker.log.Warn("watch event request failed", zap.String("channel", c.Login), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
}

package miner

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/twitch"
)

const maxChannelsPerGame = 10

// FetchChannels rebuilds the channel map from scratch: for every game on
// the priority list with an active campaign, the live directory is
// queried for drop-enabled broadcasts and the first results are kept.
// A failed search for one game does not abort the rest.
func (w *Worker) FetchChannels(ctx context.Context) {
	channels := make(map[int64]*Channel)

	for _, gameName := range w.priority {
		if _, excluded := w.exclude[gameName]; excluded {
			continue
		}

		game, ok := w.findGame(gameName)
		if !ok {
			w.log.Debug("no active campaign for priority game", zap.String("game", gameName))
			continue
		}

		found, err := w.searchGameDirectory(ctx, game)
		if err != nil {
			w.log.Warn("channel search failed", zap.String("game", gameName), zap.Error(err))
			continue
		}

		for _, channel := range found {
			channels[channel.ID] = channel
		}
		w.log.Info("found live drop channels",
			zap.String("game", gameName),
			zap.Int("count", len(found)))
	}

	w.mu.Lock()
	w.channels = channels
	w.mu.Unlock()
	w.log.Info("channel discovery finished", zap.Int("channels", len(channels)))
}

func (w *Worker) searchGameDirectory(ctx context.Context, game Game) ([]*Channel, error) {
	var data struct {
		Game struct {
			Streams struct {
				Edges []struct {
					Node struct {
						Broadcaster *struct {
							ID          string `json:"id"`
							Login       string `json:"login"`
							DisplayName string `json:"displayName"`
						} `json:"broadcaster"`
						Game gameData `json:"game"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"streams"`
		} `json:"game"`
	}

	err := w.api.GQL(ctx, twitch.Op("GameDirectory").WithVariables(map[string]any{
		"slug":    game.Slug,
		"options": map[string]any{"tags": []string{"Drops Enabled"}},
	}), &data)
	if err != nil {
		return nil, err
	}

	edges := data.Game.Streams.Edges
	if len(edges) > maxChannelsPerGame {
		edges = edges[:maxChannelsPerGame]
	}

	channels := make([]*Channel, 0, len(edges))
	for _, edge := range edges {
		broadcaster := edge.Node.Broadcaster
		if broadcaster == nil {
			continue
		}

		id, err := strconv.ParseInt(broadcaster.ID, 10, 64)
		if err != nil {
			w.log.Debug("skipping broadcaster with non-numeric id", zap.String("id", broadcaster.ID))
			continue
		}

		channels = append(channels, &Channel{
			ID:          id,
			Login:       broadcaster.Login,
			DisplayName: broadcaster.DisplayName,
			Game:        newGame(edge.Node.Game),
			worker:      w,
		})
	}

	return channels, nil
}

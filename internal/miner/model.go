package miner

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Game is identified by display name: two instances with the same name
// are interchangeable no matter their ids.
type Game struct {
	ID   string
	Name string
	Slug string
}

type gameData struct {
	ID          string `json:"id"`
	Slug        string `json:"name"`
	DisplayName string `json:"displayName"`
}

func newGame(data gameData) Game {
	slug := data.Slug
	if slug == "" {
		slug = strings.ReplaceAll(strings.ToLower(data.DisplayName), " ", "-")
	}
	return Game{ID: data.ID, Name: data.DisplayName, Slug: slug}
}

func parseTimestamp(stamp string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, stamp)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02T15:04:05Z", stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", stamp, err)
	}
	return t.UTC(), nil
}

// TimedDrop is a time-gated reward inside a campaign. The campaign
// back-reference is non-owning.
type TimedDrop struct {
	ID              string
	ClaimID         string
	Claimed         bool
	CurrentMinutes  int
	RequiredMinutes int

	campaign *DropsCampaign
}

func newTimedDrop(campaign *DropsCampaign, data dropData) *TimedDrop {
	drop := &TimedDrop{
		ID:              data.ID,
		RequiredMinutes: data.RequiredMinutesWatched,
		campaign:        campaign,
	}
	if data.Self != nil {
		drop.ClaimID = data.Self.DropInstanceID
		drop.Claimed = data.Self.IsClaimed
		drop.CurrentMinutes = data.Self.CurrentMinutesWatched
	}
	if drop.Claimed {
		drop.CurrentMinutes = drop.RequiredMinutes
	}
	return drop
}

// CanEarn reports whether watching still advances this drop.
func (d *TimedDrop) CanEarn() bool {
	return !d.Claimed && d.campaign.Active() && d.CurrentMinutes < d.RequiredMinutes
}

// CanClaim reports whether the drop is finished and waiting to be claimed.
func (d *TimedDrop) CanClaim() bool {
	return d.ClaimID != "" && !d.Claimed
}

// DropsCampaign is a time-bounded collection of drops tied to one game.
type DropsCampaign struct {
	ID       string
	Name     string
	Game     Game
	Linked   bool
	StartsAt time.Time
	EndsAt   time.Time
	Drops    map[string]*TimedDrop

	worker *Worker
}

type dropSelf struct {
	DropInstanceID        string `json:"dropInstanceID"`
	IsClaimed             bool   `json:"isClaimed"`
	CurrentMinutesWatched int    `json:"currentMinutesWatched"`
}

type dropData struct {
	ID                     string    `json:"id"`
	RequiredMinutesWatched int       `json:"requiredMinutesWatched"`
	Self                   *dropSelf `json:"self"`
}

type campaignData struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	Game           gameData   `json:"game"`
	StartAt        string     `json:"startAt"`
	EndAt          string     `json:"endAt"`
	TimeBasedDrops []dropData `json:"timeBasedDrops"`
}

func newCampaign(worker *Worker, data campaignData) (*DropsCampaign, error) {
	startsAt, err := parseTimestamp(data.StartAt)
	if err != nil {
		return nil, err
	}
	endsAt, err := parseTimestamp(data.EndAt)
	if err != nil {
		return nil, err
	}

	campaign := &DropsCampaign{
		ID:       data.ID,
		Name:     data.Name,
		Game:     newGame(data.Game),
		Linked:   true,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Drops:    make(map[string]*TimedDrop, len(data.TimeBasedDrops)),
		worker:   worker,
	}
	for _, drop := range data.TimeBasedDrops {
		campaign.Drops[drop.ID] = newTimedDrop(campaign, drop)
	}
	return campaign, nil
}

// Active reports whether now falls within [StartsAt, EndsAt).
func (c *DropsCampaign) Active() bool {
	now := time.Now().UTC()
	return !now.Before(c.StartsAt) && now.Before(c.EndsAt)
}

// Finished is true only when the campaign has drops and all of them are
// claimed. A campaign reported with zero drops is conservatively treated
// as unfinished so it keeps being farmed.
func (c *DropsCampaign) Finished() bool {
	if len(c.Drops) == 0 {
		return false
	}
	for _, drop := range c.Drops {
		if !drop.Claimed {
			return false
		}
	}
	return true
}

func (c *DropsCampaign) CanEarn() bool {
	return c.Active() && !c.Finished()
}

// Progress summarizes drop state for status output, e.g. "10/30min, ✓180/180min".
func (c *DropsCampaign) Progress() string {
	if len(c.Drops) == 0 {
		return "no drops"
	}
	parts := make([]string, 0, len(c.Drops))
	for _, drop := range c.Drops {
		mark := ""
		if drop.Claimed {
			mark = "✓"
		}
		parts = append(parts, fmt.Sprintf("%s%d/%dmin", mark, drop.CurrentMinutes, drop.RequiredMinutes))
	}
	return strings.Join(parts, ", ")
}

// Stream is the live broadcast of a channel.
type Stream struct {
	BroadcastID string
	Game        *Game

	channel *Channel
}

// spadePayload renders the telemetry event a real player emits once a
// minute: minified JSON, base64-encoded.
func (s *Stream) spadePayload(userID int64) (string, error) {
	payload := map[string]any{
		"event": "minute-watched",
		"properties": map[string]any{
			"broadcast_id": s.BroadcastID,
			"channel_id":   strconv.FormatInt(s.channel.ID, 10),
			"channel":      s.channel.Login,
			"hidden":       false,
			"live":         true,
			"location":     "channel",
			"logged_in":    true,
			"muted":        false,
			"player":       "site",
			"user_id":      strconv.FormatInt(userID, 10),
			"platform":     "web",
			"timestamp":    time.Now().UnixMilli(),
		},
	}

	minified, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(minified), nil
}

// Channel is a discovered broadcaster, identified by numeric id. Channels
// live only for the duration of a run.
type Channel struct {
	ID          int64
	Login       string
	DisplayName string
	Game        Game

	worker   *Worker
	stream   *Stream
	spadeURL string
}

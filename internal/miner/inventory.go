package miner

import (
	"context"

	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/twitch"
)

// FetchInventory refreshes the tracked campaign list: the full campaign
// dashboard merged with the account's in-progress inventory, filtered to
// ACTIVE campaigns. Refresh is best-effort — any error empties the list
// and is logged, never propagated. Finished drops are claimed on the spot.
func (w *Worker) FetchInventory(ctx context.Context) {
	campaigns, err := w.fetchCampaigns(ctx)
	if err != nil {
		w.log.Error("inventory refresh failed", zap.Error(err))
		w.mu.Lock()
		w.inventory = nil
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.inventory = campaigns
	w.mu.Unlock()

	w.log.Info("inventory refreshed", zap.Int("active_campaigns", len(campaigns)))
	for _, campaign := range campaigns {
		w.log.Info("campaign",
			zap.String("name", campaign.Name),
			zap.String("game", campaign.Game.Name),
			zap.Bool("earnable", campaign.CanEarn()),
			zap.String("drops", campaign.Progress()))
	}

	for _, campaign := range campaigns {
		for _, drop := range campaign.Drops {
			if drop.CanClaim() {
				drop.Claim(ctx)
			}
		}
	}
}

func (w *Worker) fetchCampaigns(ctx context.Context) ([]*DropsCampaign, error) {
	var dashboard struct {
		CurrentUser struct {
			DropCampaigns []campaignData `json:"dropCampaigns"`
		} `json:"currentUser"`
	}
	if err := w.api.GQL(ctx, twitch.Op("ViewerDropsDashboard"), &dashboard); err != nil {
		return nil, err
	}

	var inventory struct {
		CurrentUser struct {
			Inventory struct {
				DropCampaignsInProgress []campaignData `json:"dropCampaignsInProgress"`
			} `json:"inventory"`
		} `json:"currentUser"`
	}
	if err := w.api.GQL(ctx, twitch.Op("Inventory"), &inventory); err != nil {
		return nil, err
	}

	progress := make(map[string]campaignData)
	for _, campaign := range inventory.CurrentUser.Inventory.DropCampaignsInProgress {
		progress[campaign.ID] = campaign
	}

	var campaigns []*DropsCampaign
	for _, data := range dashboard.CurrentUser.DropCampaigns {
		mergeProgress(&data, progress)
		if data.Status != "ACTIVE" {
			continue
		}

		campaign, err := newCampaign(w, data)
		if err != nil {
			w.log.Warn("skipping malformed campaign", zap.String("id", data.ID), zap.Error(err))
			continue
		}
		campaigns = append(campaigns, campaign)
	}

	return campaigns, nil
}

// mergeProgress copies per-drop watch progress and claim state from the
// inventory response into the dashboard record, matched by id.
func mergeProgress(data *campaignData, progress map[string]campaignData) {
	tracked, ok := progress[data.ID]
	if !ok {
		return
	}

	drops := make(map[string]dropData, len(tracked.TimeBasedDrops))
	for _, drop := range tracked.TimeBasedDrops {
		drops[drop.ID] = drop
	}
	for i := range data.TimeBasedDrops {
		if drop, ok := drops[data.TimeBasedDrops[i].ID]; ok {
			data.TimeBasedDrops[i].Self = drop.Self
		}
	}
}

// Claim redeems a finished drop. It is a no-op unless the drop is
// claimable; a server-side error leaves the drop unclaimed so a later
// refresh can retry.
func (d *TimedDrop) Claim(ctx context.Context) {
	if !d.CanClaim() {
		return
	}

	worker := d.campaign.worker
	err := worker.api.GQL(ctx, twitch.Op("ClaimDrop").WithVariables(map[string]any{
		"input": map[string]any{"dropInstanceID": d.ClaimID},
	}), nil)
	if err != nil {
		worker.log.Warn("failed to claim drop", zap.String("drop", d.ID), zap.Error(err))
		return
	}

	d.Claimed = true
	d.CurrentMinutes = d.RequiredMinutes
	worker.log.Info("claimed drop", zap.String("campaign", d.campaign.Name))
}

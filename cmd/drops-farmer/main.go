package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/config"
	"github.com/lumen1211/drops-farmer/internal/crypto"
	"github.com/lumen1211/drops-farmer/internal/logger"
	"github.com/lumen1211/drops-farmer/internal/miner"
	"github.com/lumen1211/drops-farmer/internal/store"
)

func main() {
	env := config.LoadEnv()

	zlog, err := logger.New(env.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	if env.SecureKey == "" {
		zlog.Fatal("DF_SECURE_KEY is not set; generate one with `dfctl keygen`")
	}

	st, err := store.Open(env.DBPath, crypto.Cipher(env.SecureKey))
	if err != nil {
		zlog.Fatal("opening account store", zap.Error(err))
	}
	defer st.Close()

	account, err := st.FirstEnabled()
	if err != nil {
		zlog.Fatal("selecting account", zap.Error(err))
	}

	headers, err := config.LoadHeaders(env.HeadersFile)
	if err != nil {
		zlog.Fatal("loading headers file", zap.Error(err))
	}

	worker, err := miner.New(workerConfig(account, headers), zlog)
	if err != nil {
		zlog.Fatal("creating worker", zap.Error(err))
	}
	defer worker.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Init(ctx); err != nil {
		zlog.Fatal("session initialization failed", zap.Error(err))
	}
	fmt.Printf("Logged in as %s (user id %d)\n", worker.Username, worker.UserID)

	if err := run(ctx, worker); err != nil {
		zlog.Error("interactive session ended", zap.Error(err))
	}
}

// workerConfig merges the stored account with the shared headers file;
// account-level overrides win.
func workerConfig(account store.Account, headers config.Headers) miner.Config {
	cfg := miner.Config{
		Username:        account.Username,
		AuthToken:       account.AuthToken,
		Cookies:         account.Cookies,
		Proxy:           account.Proxy,
		PriorityGames:   account.PriorityGames,
		ExcludeGames:    account.ExcludeGames,
		DeviceID:        account.DeviceID,
		ClientIntegrity: account.ClientIntegrity,
		ClientVersion:   account.ClientVersion,
	}
	if cfg.ClientIntegrity == "" {
		cfg.ClientIntegrity = headers.ClientIntegrity
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = headers.ClientVersion
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = headers.DeviceID
	}
	return cfg
}

func run(ctx context.Context, worker *miner.Worker) error {
	fmt.Println("Fetching campaign list...")
	worker.FetchInventory(ctx)

	var campaigns []*miner.DropsCampaign
	for _, campaign := range worker.Inventory() {
		if campaign.Active() {
			campaigns = append(campaigns, campaign)
		}
	}
	if len(campaigns) == 0 {
		fmt.Println("No active campaigns found.")
		return nil
	}

	fmt.Println("\nActive campaigns:")
	for i, campaign := range campaigns {
		marker := " "
		if campaign.CanEarn() {
			marker = "*"
		}
		fmt.Printf("%3d. [%s] %s (%s) — %s\n", i+1, marker, campaign.Name, campaign.Game.Name, campaign.Progress())
	}

	reader := bufio.NewReader(os.Stdin)
	choice, err := promptIndex(reader, "Select a campaign", len(campaigns))
	if err != nil {
		return err
	}
	selected := campaigns[choice]

	fmt.Printf("\nSearching channels for %s...\n", selected.Game.Name)
	worker.SetPriorityGames([]string{selected.Game.Name})
	worker.FetchChannels(ctx)

	channels := worker.Channels()
	if len(channels) == 0 {
		fmt.Println("No live drop-enabled channels found for this game.")
		return nil
	}

	fmt.Println("\nLive channels:")
	for i, channel := range channels {
		fmt.Printf("%3d. %s (%s)\n", i+1, channel.DisplayName, channel.Login)
	}

	choice, err = promptIndex(reader, "Select a channel", len(channels))
	if err != nil {
		return err
	}

	fmt.Println("\nWatching. Press Ctrl-C to stop.")
	worker.Watch(channels[choice])

	for worker.Watching() != nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Second):
		}
	}

	worker.StopWatching()
	fmt.Println("Watching finished.")
	return nil
}

func promptIndex(reader *bufio.Reader, prompt string, max int) (int, error) {
	fmt.Printf("\n%s (1-%d): ", prompt, max)

	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, err
	}

	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > max {
		return 0, fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return choice - 1, nil
}

// Command dfctl manages the account store and campaign priorities for
// the farmer: importing reference-format account files, listing active
// campaigns and assigning priority games.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"github.com/lumen1211/drops-farmer/internal/config"
	"github.com/lumen1211/drops-farmer/internal/crypto"
	"github.com/lumen1211/drops-farmer/internal/logger"
	"github.com/lumen1211/drops-farmer/internal/miner"
	"github.com/lumen1211/drops-farmer/internal/store"
)

const usage = `Usage:
  dfctl keygen                          generate a new DF_SECURE_KEY
  dfctl import <accounts.json>          import accounts into the store
  dfctl accounts                        list stored accounts
  dfctl campaigns [out.csv]             list active campaigns (optional CSV export)
  dfctl priority <username> <game>...   set an account's priority games
`

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	if os.Args[1] == "keygen" {
		fmt.Println(crypto.NewKey())
		return
	}

	env := config.LoadEnv()
	if env.SecureKey == "" {
		log.Fatal("DF_SECURE_KEY is not set; generate one with `dfctl keygen`")
	}

	st, err := store.Open(env.DBPath, crypto.Cipher(env.SecureKey))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	switch os.Args[1] {
	case "import":
		if len(os.Args) != 3 {
			log.Fatal("import needs a path to accounts.json")
		}
		importAccounts(st, os.Args[2])
	case "accounts":
		listAccounts(st)
	case "campaigns":
		csvPath := ""
		if len(os.Args) > 2 {
			csvPath = os.Args[2]
		}
		listCampaigns(st, env, csvPath)
	case "priority":
		if len(os.Args) < 4 {
			log.Fatal("priority needs a username and at least one game name")
		}
		if err := st.SetPriorityGames(os.Args[2], os.Args[3:]); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Updated priority games for %s\n", os.Args[2])
	default:
		fmt.Print(usage)
		os.Exit(2)
	}
}

// accountFile mirrors the reference accounts.json format.
type accountFile struct {
	Username        string   `json:"username"`
	Enabled         bool     `json:"enabled"`
	Proxy           string   `json:"proxy"`
	AuthToken       string   `json:"auth_token"`
	Cookies         string   `json:"cookies"`
	PriorityGames   []string `json:"priority_games"`
	ExcludeGames    []string `json:"exclude_games"`
	DeviceID        string   `json:"device_id"`
	ClientIntegrity string   `json:"client_integrity"`
	ClientVersion   string   `json:"client_version"`
}

func importAccounts(st *store.Store, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}

	var accounts []accountFile
	if err := json.Unmarshal(data, &accounts); err != nil {
		log.Fatalf("parsing %s: %v", path, err)
	}

	for _, account := range accounts {
		err := st.Upsert(store.Account{
			Username:        account.Username,
			Enabled:         account.Enabled,
			Proxy:           account.Proxy,
			AuthToken:       account.AuthToken,
			Cookies:         account.Cookies,
			PriorityGames:   account.PriorityGames,
			ExcludeGames:    account.ExcludeGames,
			DeviceID:        account.DeviceID,
			ClientIntegrity: account.ClientIntegrity,
			ClientVersion:   account.ClientVersion,
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Imported %s\n", account.Username)
	}
}

func listAccounts(st *store.Store) {
	accounts, err := st.List()
	if err != nil {
		log.Fatal(err)
	}

	for _, account := range accounts {
		status := "disabled"
		if account.Enabled {
			status = "enabled"
		}
		priority := "any campaign"
		if len(account.PriorityGames) > 0 {
			priority = fmt.Sprintf("%v", account.PriorityGames)
		}
		fmt.Printf("%s\t%s\tpriority: %s\n", account.Username, status, priority)
	}
}

// campaignRow is one line of the campaigns CSV export.
type campaignRow struct {
	Game     string `csv:"game"`
	Campaign string `csv:"campaign"`
	Earnable bool   `csv:"earnable"`
	Drops    string `csv:"drops"`
}

func listCampaigns(st *store.Store, env config.Env, csvPath string) {
	zlog, err := logger.New(env.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	account, err := st.FirstEnabled()
	if err != nil {
		log.Fatal(err)
	}

	headers, err := config.LoadHeaders(env.HeadersFile)
	if err != nil {
		log.Fatal(err)
	}

	worker, err := miner.New(miner.Config{
		Username:        account.Username,
		AuthToken:       account.AuthToken,
		Cookies:         account.Cookies,
		Proxy:           account.Proxy,
		DeviceID:        firstNonEmpty(account.DeviceID, headers.DeviceID),
		ClientIntegrity: firstNonEmpty(account.ClientIntegrity, headers.ClientIntegrity),
		ClientVersion:   firstNonEmpty(account.ClientVersion, headers.ClientVersion),
	}, zlog)
	if err != nil {
		log.Fatal(err)
	}
	defer worker.Stop()

	ctx := context.Background()
	if err := worker.Init(ctx); err != nil {
		zlog.Fatal("session initialization failed", zap.Error(err))
	}
	worker.FetchInventory(ctx)

	campaigns := worker.Inventory()
	if len(campaigns) == 0 {
		fmt.Println("No active campaigns.")
		return
	}

	rows := make([]campaignRow, 0, len(campaigns))
	for _, campaign := range campaigns {
		fmt.Printf("%s\t%s\t%s\n", campaign.Game.Name, campaign.Name, campaign.Progress())
		rows = append(rows, campaignRow{
			Game:     campaign.Game.Name,
			Campaign: campaign.Name,
			Earnable: campaign.CanEarn(),
			Drops:    campaign.Progress(),
		})
	}

	if csvPath == "" {
		return
	}

	f, err := os.Create(csvPath)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Wrote %s\n", csvPath)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

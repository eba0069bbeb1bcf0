package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/settler-hq/settler-edge/internal/config"
	"github.com/settler-hq/settler-edge/internal/database"
	"github.com/settler-hq/settler-edge/internal/node"
	"github.com/settler-hq/settler-edge/internal/store"
	"github.com/settler-hq/settler-edge/internal/utils"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "enroll":
		err = runEnroll(args)
	case "start":
		err = runStart(args)
	case "status":
		err = runStatus(args)
	case "version":
		fmt.Println(config.Version)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: edge <command> [flags]

Commands:
  enroll   Register this node with the cloud (one time)
  start    Run the agent in the foreground
  status   Show the state of a running agent
  version  Print the agent version`)
}

func runEnroll(args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	key := fs.String("enrollment-key", "", "enrollment key issued by the cloud")
	name := fs.String("name", "", "human-readable node name")
	deviceType := fs.String("type", "edge_agent", "device type reported to the cloud")
	envFile := fs.String("config", "", "path to a .env config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	if *name == "" {
		if host, err := os.Hostname(); err == nil {
			*name = host
		}
	}

	agent := node.New(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	if err := agent.Enroll(ctx, *key, *name, *deviceType); err != nil {
		return err
	}
	fmt.Printf("Node enrolled. Key stored at %s\n", cfg.NodeKeyPath())
	return nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	envFile := fs.String("config", "", "path to a .env config file")
	nodeKey := fs.String("node-key", "", "node key override (defaults to the persisted key file)")
	offline := fs.Bool("offline", false, "run without any cloud connectivity")
	_ = fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *nodeKey != "" {
		cfg.NodeKey = *nodeKey
	}
	if *offline {
		cfg.OfflineMode = true
	}

	agent := node.New(cfg)
	if err := agent.Start(context.Background()); err != nil {
		return err
	}

	// Block until shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")
	return agent.Stop()
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	envFile := fs.String("config", "", "path to a .env config file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}

	// Prefer the control API of a running agent
	if status, err := fetchLiveStatus(cfg); err == nil {
		return printJSON(status)
	}

	// No agent listening; inspect the store directly
	return printOfflineStatus(cfg)
}

// fetchLiveStatus asks a running agent over the localhost control API,
// authenticating with a token minted from the node key
func fetchLiveStatus(cfg *config.Config) (map[string]interface{}, error) {
	nodeKey, err := utils.LoadNodeKey(cfg.NodeKeyPath())
	if err != nil {
		return nil, err
	}
	token, err := utils.IssueLocalToken(nodeKey)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodGet, "http://"+cfg.ControlAddr+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control API returned HTTP %d", resp.StatusCode)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return status, nil
}

// printOfflineStatus reports what the store alone can tell us
func printOfflineStatus(cfg *config.Config) error {
	enrolled := true
	if _, err := utils.LoadNodeKey(cfg.NodeKeyPath()); err != nil {
		enrolled = false
	}

	status := map[string]interface{}{
		"state":    "stopped",
		"enrolled": enrolled,
		"version":  cfg.Version,
	}

	if _, err := os.Stat(cfg.DatabasePath()); err == nil {
		db, err := database.Open(cfg.DatabasePath())
		if err != nil {
			return fmt.Errorf("failed to open local store: %w", err)
		}
		defer db.Close()

		s := store.New(db)
		status["store_size_mb"] = s.SizeMB()
		if jobs, err := s.CountJobs(); err == nil {
			status["jobs_total"] = jobs
		}
		if dead, err := s.CountDeadQueueItems(); err == nil {
			status["dead_letter_items"] = dead
		}
	}

	return printJSON(status)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

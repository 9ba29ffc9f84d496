// Command securus-agent is a reference host for the embedded agent: it
// loads a YAML configuration, runs the full detection pipeline and prints
// surfaced events until interrupted. Real deployments embed pkg/agent in
// the mobile host application instead.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/imanology1/securus-agent/pkg/agent"
	"github.com/imanology1/securus-agent/pkg/config"
	"github.com/imanology1/securus-agent/pkg/store"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML configuration")
	dataDir := flag.String("data", defaultDataDir(), "directory for the encrypted agent state")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	st, err := openStore(*dataDir, cfg.APIKey)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a := agent.New(agent.WithStore(st))
	if err := a.Configure(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "configure:", err)
		os.Exit(1)
	}
	if err := a.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "start:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case ev := <-a.Events():
			fmt.Printf("threat %s severity=%s type=%s\n", ev.ID, ev.Severity, ev.Type)
		case n := <-a.Notifications():
			if n.Err != nil {
				fmt.Fprintf(os.Stderr, "agent: %s: %v\n", n.Message, n.Err)
			} else {
				fmt.Println("agent:", n.Message)
			}
		case <-sig:
			if err := a.Stop(); err != nil {
				fmt.Fprintln(os.Stderr, "stop:", err)
				os.Exit(1)
			}
			return
		}
	}
}

func openStore(dir, secret string) (store.Store, error) {
	key, err := store.DeriveKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(dir, key)
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "securus-agent")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/bot"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/logging"
)

var (
	serverURL  = flag.String("url", "ws://127.0.0.1:9001/ws", "URL of the websocket endpoint")
	botCount   = flag.Int("count", 0, "Number of bots to run, overriding the config")
	configPath = flag.String("config", "", "Path to the YAML config file")
	debugLevel = flag.String("debuglevel", "info", "Logging level: trace, debug, info, warn, error, critical or SUBSYS=level pairs")
)

func realMain() error {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %v", err)
	}
	count := cfg.Debug.Bots.Count
	if *botCount > 0 {
		count = *botCount
	}
	if count <= 0 {
		return fmt.Errorf("no bots to run, set -count or debug.bots.count")
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{DebugLevel: *debugLevel})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %v", err)
	}
	defer logBackend.Close()
	log := logBackend.Logger("BOT")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received %v, shutting down", sig)
		cancel()
	}()

	fleet := bot.NewFleet(bot.FleetConfig{
		Log: log,
		Bot: bot.Config{
			Log:    log,
			Config: cfg,
			Dial:   bot.DialWebSocket(*serverURL, logBackend.Logger("CONN")),
		},
		Count: count,
	})
	log.Infof("Running %d bots against %s", count, *serverURL)
	if err := fleet.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

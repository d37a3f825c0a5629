package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrutil/v4"
	"golang.org/x/sync/errgroup"

	"github.com/PurkkaKoodari/pyxyzzy/pkg/bot"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/catalog"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/config"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/game"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/logging"
	"github.com/PurkkaKoodari/pyxyzzy/pkg/server"
)

// defaultConfigFile is picked up from the working directory when no
// -config flag is given.
const defaultConfigFile = "config.yaml"

var (
	configPath  = flag.String("config", "", "Path to the YAML config file")
	dataDir     = flag.String("datadir", "", "Directory for logs and the card database")
	listenAddr  = flag.String("listen", "", "host:port to listen on, overriding the config")
	dbFile      = flag.String("db", "", "Path to the SQLite card database, overriding the config")
	importPacks = flag.String("importpacks", "", "Import card packs from this JSON file at startup")
	debugLevel  = flag.String("debuglevel", "info", "Logging level: trace, debug, info, warn, error, critical or SUBSYS=level pairs")
	seed        = flag.Int64("seed", 0, "Deterministic RNG seed for games (0 = random)")
)

func realMain() error {
	flag.Parse()

	datadir := *dataDir
	if datadir == "" {
		datadir = dcrutil.AppDataDir("pyxyzzy", false)
	}
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %v", err)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			cfgPath = defaultConfigFile
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("configuration error: %v", err)
	}
	if *listenAddr != "" {
		host, portStr, err := net.SplitHostPort(*listenAddr)
		if err != nil {
			return fmt.Errorf("invalid -listen address %q: %v", *listenAddr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid -listen port %q: %v", portStr, err)
		}
		cfg.Server.Host, cfg.Server.Port = host, port
	}

	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:    filepath.Join(datadir, "logs", "xyzzyd.log"),
		DebugLevel: *debugLevel,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %v", err)
	}
	defer logBackend.Close()
	log := logBackend.Logger("XSRV")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("Received %v, shutting down", sig)
		cancel()
	}()

	dbPath := cfg.Database.File
	if *dbFile != "" {
		dbPath = *dbFile
	}
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(datadir, dbPath)
	}
	catLog := logBackend.Logger("CTLG")
	cat, err := catalog.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open card database: %v", err)
	}
	defer cat.Close()

	if *importPacks != "" {
		f, err := os.Open(*importPacks)
		if err != nil {
			return fmt.Errorf("failed to read card packs: %v", err)
		}
		count, err := cat.ImportJSON(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to import card packs: %v", err)
		}
		catLog.Infof("Imported %d card packs from %s", count, *importPacks)
	}
	packs, err := cat.LoadPacks()
	if err != nil {
		return fmt.Errorf("failed to load card packs: %v", err)
	}
	catLog.Infof("Loaded %d card packs from %s", len(packs), dbPath)

	// The fleet must not share the game server's rng: bots draw their
	// seeds outside the game server's lock. Split the seed here, before
	// anything can race on rng.
	var rng, botRng *rand.Rand
	if *seed != 0 {
		rng = rand.New(rand.NewSource(*seed))
		botRng = rand.New(rand.NewSource(rng.Int63()))
	}
	games := game.NewGameServer(game.GameServerConfig{
		Log:    logBackend.Logger("GAME"),
		Config: cfg,
		Rand:   rng,
	})
	var packErr error
	games.Run(func() {
		for _, pack := range packs {
			if err := games.AddCardPack(pack); err != nil {
				packErr = err
				break
			}
		}
	})
	if packErr != nil {
		return fmt.Errorf("failed to register card packs: %v", packErr)
	}
	srv := server.New(server.Config{
		Log:        logBackend.Logger("CONN"),
		GameServer: games,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"server":"pyxyzzy","version":%q}`+"\n", config.UIVersion)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", addr, err)
	}
	httpSrv := &http.Server{Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Serving websockets on ws://%s/ws", lis.Addr())
		if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		err := httpSrv.Shutdown(sctx)
		games.Stop()
		return err
	})

	if cfg.Debug.Enabled && cfg.Debug.Bots.Count > 0 {
		fleet := bot.NewFleet(bot.FleetConfig{
			Log: logBackend.Logger("BOT"),
			Bot: bot.Config{
				Log:    logBackend.Logger("BOT"),
				Config: cfg,
				Dial:   bot.DialDirect(srv),
				Rand:   botRng,
			},
			Count: cfg.Debug.Bots.Count,
		})
		g.Go(func() error {
			if err := fleet.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("Server stopped")
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package bot

import (
	"context"
	"time"

	"github.com/decred/slog"
)

// FleetConfig configures a population of bots.
type FleetConfig struct {
	Log slog.Logger
	// Bot is the configuration every spawned bot gets.
	Bot Config
	// Count is how many bots the fleet keeps alive.
	Count int
}

// Fleet keeps a fixed number of bots alive, starting a replacement each
// second for every bot that has quit.
type Fleet struct {
	log   slog.Logger
	bot   Config
	count int
}

func NewFleet(cfg FleetConfig) *Fleet {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Fleet{log: log, bot: cfg.Bot, count: cfg.Count}
}

// Run tops up the fleet until ctx ends, then disconnects the surviving
// bots. It always returns the reason ctx ended.
func (f *Fleet) Run(ctx context.Context) error {
	f.log.Infof("Keeping %d bots around", f.count)
	var bots []*RandomPlayBot
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.log.Infof("Dismissing %d bots", len(bots))
			for _, b := range bots {
				b.Quit()
			}
			return ctx.Err()
		case <-ticker.C:
			alive := bots[:0]
			for _, b := range bots {
				if !b.Finished() {
					alive = append(alive, b)
				}
			}
			bots = alive
			if len(bots) < f.count {
				f.log.Debugf("Fleet at %d/%d, starting a bot", len(bots), f.count)
				b := NewRandomPlayBot(f.bot)
				b.Start(ctx)
				bots = append(bots, b)
			}
		}
	}
}

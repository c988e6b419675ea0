package fetch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Janitor periodically sweeps the temp directory, removing downloads left
// behind by crashed or interrupted jobs. Per-job cleanup is the primary
// mechanism; the janitor is the backstop.
type Janitor struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
}

func NewJanitor(dir string, maxAge, interval time.Duration) *Janitor {
	return &Janitor{dir: dir, maxAge: maxAge, interval: interval}
}

// Run sweeps on a ticker until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	log.Info().Str("dir", j.dir).Dur("interval", j.interval).Msg("temp janitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("temp janitor stopped")
			return
		case <-ticker.C:
			removed := j.Sweep()
			if removed > 0 {
				log.Info().Int("removed", removed).Msg("temp janitor sweep")
			}
		}
	}
}

// Sweep removes files older than maxAge and returns the number removed.
func (j *Janitor) Sweep() int {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", j.dir).Msg("janitor read dir failed")
		return 0
	}

	cutoff := time.Now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("janitor remove failed")
			continue
		}
		removed++
	}
	return removed
}

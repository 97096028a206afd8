// vpmem-sim runs the pmem flush protocol against a simulated host and
// reports flush latency. It is the end-to-end exerciser for the driver core:
// concurrent writers dirty the backing store and issue durability barriers,
// the simulated host persists and acknowledges them.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/virtkit/vpmem"
	"github.com/virtkit/vpmem/internal/debug"
	"github.com/virtkit/vpmem/internal/hostsim"
)

type latencyRecord struct {
	mu    sync.Mutex
	count int
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

func (r *latencyRecord) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.sum += d
	if r.min == 0 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
}

func (r *latencyRecord) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return "no flushes"
	}
	return fmt.Sprintf("count=%d min=%s max=%s avg=%s",
		r.count, r.min, r.max, r.sum/time.Duration(r.count))
}

func run() error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file (flags override nothing it sets)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	tracePath := fs.String("trace", "", "write a flush-path trace to this file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *tracePath != "" {
		if err := debug.OpenFile(*tracePath); err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer debug.Close()
	}

	var backend hostsim.Backend
	if cfg.BackingFile != "" {
		fb, err := hostsim.NewFileBackend(cfg.BackingFile, cfg.Size)
		if err != nil {
			return err
		}
		backend = fb
	} else {
		backend = hostsim.NewMemBackend(cfg.Size)
	}
	defer backend.Close()

	host := hostsim.New(hostsim.Options{
		Start:      cfg.Start,
		Size:       cfg.Size,
		QueueSlots: cfg.QueueSlots,
		Latency:    cfg.Latency.Duration(),
		Jitter:     cfg.Jitter.Duration(),
		Backend:    backend,
		Logger:     logger,
	})

	dev, err := vpmem.Probe(host, vpmem.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer dev.Remove()

	region := dev.Region()
	total := cfg.Workers * cfg.Flushes
	bar := progressbar.Default(int64(total), "flushing")
	record := new(latencyRecord)

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < cfg.Workers; w++ {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(rand.Int63()))
			buf := make([]byte, cfg.WriteSize)
			for i := 0; i < cfg.Flushes; i++ {
				rng.Read(buf)
				off := rng.Int63n(int64(cfg.Size) - int64(len(buf)))
				if _, err := backend.WriteAt(buf, off); err != nil {
					return err
				}
				begin := time.Now()
				if err := region.Flush(); err != nil {
					return fmt.Errorf("flush: %w", err)
				}
				record.Add(time.Since(begin))
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	elapsed := time.Since(start)
	fmt.Printf("flushed %d barriers in %s (%s)\n", total, elapsed, record)
	fmt.Printf("host persists: %d\n", backend.Persists())
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "vpmem-sim: %v\n", err)
		os.Exit(1)
	}
}

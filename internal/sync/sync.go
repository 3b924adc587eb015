// Package sync periodically exports the site state as JSONL to backup
// destinations.
package sync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination receives each JSONL export.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Scheduler exports the site state on an interval. The site state changes
// rarely, so a tick whose export matches the last delivered one (ignoring
// the header timestamp) is skipped.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	lastDigest [sha256.Size]byte
	delivered  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(s Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       s,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start exports immediately and then on every tick until Stop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for an export in progress.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	data, digest, err := s.export(ctx)
	if err != nil {
		s.logger.Error("sync failed", "err", err)
		return
	}
	s.mu.Lock()
	unchanged := s.delivered && digest == s.lastDigest
	s.mu.Unlock()
	if unchanged {
		s.logger.Debug("sync skipped, site state unchanged")
		return
	}
	if err := s.deliver(ctx, data, digest); err != nil {
		s.logger.Error("sync failed", "err", err)
	}
}

// RunOnce exports and writes to every destination regardless of what was
// delivered before.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	data, digest, err := s.export(ctx)
	if err != nil {
		return err
	}
	return s.deliver(ctx, data, digest)
}

func (s *Scheduler) export(ctx context.Context) ([]byte, [sha256.Size]byte, error) {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, &buf); err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("export: %w", err)
	}
	data := buf.Bytes()
	body := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		body = data[i+1:]
	}
	return data, sha256.Sum256(body), nil
}

// deliver writes data to every destination. A failing destination does
// not stop the others; all failures are joined into the result.
func (s *Scheduler) deliver(ctx context.Context, data []byte, digest [sha256.Size]byte) error {
	var errs []error
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			s.logger.Error("sync destination write failed", "destination", fmt.Sprintf("%T", dest), "err", err)
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.lastDigest = digest
	s.delivered = len(errs) == 0
	s.mu.Unlock()

	s.logger.Info("sync completed", "destinations", len(s.destinations), "failed", len(errs), "bytes", len(data))
	return errors.Join(errs...)
}

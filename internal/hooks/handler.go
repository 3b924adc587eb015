package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/events"
	"github.com/alfredjeanlab/sitegate/internal/model"
)

// Environment variables passed to the hook command.
const (
	EnvEvent       = "SITEGATE_EVENT" // "availability" or "content"
	EnvUnavailable = "SITEGATE_UNAVAILABLE"
	EnvMessage     = "SITEGATE_MESSAGE"
	EnvUpdatedBy   = "SITEGATE_UPDATED_BY"
	EnvPage        = "SITEGATE_PAGE"
	EnvSection     = "SITEGATE_SECTION"
)

// Handler runs the configured command for availability and content events.
type Handler struct {
	command string
	timeout time.Duration
	logger  *slog.Logger

	// last availability the hook ran for; pushes carrying the same value
	// or an older row do not run it again.
	mu   sync.Mutex
	last *model.Availability
}

// NewHandler returns a handler for command. An empty command disables it.
func NewHandler(command string, timeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{command: command, timeout: timeout, logger: logger}
}

// Enabled reports whether a command is configured.
func (h *Handler) Enabled() bool { return h.command != "" }

// HandleStatus runs the hook when ev carries a new availability value.
// It reports whether the command ran.
func (h *Handler) HandleStatus(ctx context.Context, ev events.StatusUpdated) (bool, Result) {
	if !h.Enabled() || ev.Status == nil {
		return false, Result{}
	}
	next := ev.Status.Availability()

	h.mu.Lock()
	if h.last != nil {
		if next.OlderThan(*h.last) || next.SameValue(*h.last) {
			h.mu.Unlock()
			return false, Result{}
		}
	}
	h.last = &next
	h.mu.Unlock()

	env := map[string]string{
		EnvEvent:       "availability",
		EnvUnavailable: strconv.FormatBool(next.Unavailable),
		EnvMessage:     next.NoticeText(),
		EnvUpdatedBy:   ev.UpdatedBy,
	}
	res := Execute(ctx, h.command, h.timeout, env)
	h.report("availability", res)
	return true, res
}

// HandleContent runs the hook for an edited content entry.
func (h *Handler) HandleContent(ctx context.Context, ev events.ContentUpdated) (bool, Result) {
	if !h.Enabled() || ev.Entry == nil {
		return false, Result{}
	}
	env := map[string]string{
		EnvEvent:     "content",
		EnvPage:      ev.Entry.PageName,
		EnvSection:   ev.Entry.SectionKey,
		EnvUpdatedBy: ev.UpdatedBy,
	}
	res := Execute(ctx, h.command, h.timeout, env)
	h.report("content", res)
	return true, res
}

func (h *Handler) report(kind string, res Result) {
	if res.Err != nil {
		h.logger.Warn("hooks: command failed", "event", kind, "exit_code", res.ExitCode,
			"duration", res.Duration, "err", res.Err, "output", res.Output)
		return
	}
	h.logger.Info("hooks: command ran", "event", kind, "duration", res.Duration)
}

// StartSubscriber listens for status and content events on the bus and
// runs the hook for each. It blocks until ctx is cancelled.
func (h *Handler) StartSubscriber(ctx context.Context, sub events.Subscriber) error {
	statusCh, cancelStatus, err := sub.Subscribe(events.TopicStatusUpdated)
	if err != nil {
		return fmt.Errorf("hooks: subscribe: %w", err)
	}
	defer cancelStatus()
	contentCh, cancelContent, err := sub.Subscribe(events.TopicContentUpdated)
	if err != nil {
		return fmt.Errorf("hooks: subscribe: %w", err)
	}
	defer cancelContent()

	h.logger.Info("hooks: subscriber started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hooks: subscriber stopping")
			return nil
		case raw, ok := <-statusCh:
			if !ok {
				h.logger.Info("hooks: subscription channel closed")
				return nil
			}
			var ev events.StatusUpdated
			if err := json.Unmarshal(raw, &ev); err != nil {
				h.logger.Warn("hooks: bad event payload", "err", err)
				continue
			}
			h.HandleStatus(ctx, ev)
		case raw, ok := <-contentCh:
			if !ok {
				h.logger.Info("hooks: subscription channel closed")
				return nil
			}
			var ev events.ContentUpdated
			if err := json.Unmarshal(raw, &ev); err != nil {
				h.logger.Warn("hooks: bad event payload", "err", err)
				continue
			}
			h.HandleContent(ctx, ev)
		}
	}
}

package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// frontmostScript prints "<pid>\t<bundle id>\t<name>" for the frontmost application.
const frontmostScript = `tell application "System Events"
	set p to first application process whose frontmost is true
	set bid to bundle identifier of p
	if bid is missing value then set bid to ""
	return (unix id of p as text) & tab & bid & tab & (name of p)
end tell`

// DefaultPollInterval is how often the frontmost application is sampled.
const DefaultPollInterval = 500 * time.Millisecond

// FocusPoller implements domain.EventSource by sampling the frontmost
// application through osascript. A change of frontmost pid yields a
// Deactivated event for the old app followed by Activated for the new one.
type FocusPoller struct {
	runner    CommandRunner
	inspector domain.ProcessInspector
	interval  time.Duration
	logger    *zap.Logger

	current  *domain.AppEvent
	failures int
}

// NewFocusPoller creates a poller using osascript.
func NewFocusPoller(interval time.Duration, inspector domain.ProcessInspector, logger *zap.Logger) *FocusPoller {
	return NewFocusPollerWithRunner(RealCommandRunner{}, interval, inspector, logger)
}

// NewFocusPollerWithRunner creates a poller with an injectable runner (for testing).
func NewFocusPollerWithRunner(runner CommandRunner, interval time.Duration, inspector domain.ProcessInspector, logger *zap.Logger) *FocusPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &FocusPoller{
		runner:    runner,
		inspector: inspector,
		interval:  interval,
		logger:    logger,
	}
}

// Run samples until ctx is canceled. It returns ctx.Err().
func (p *FocusPoller) Run(ctx context.Context, events chan<- domain.AppEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		for _, ev := range p.poll(ctx) {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll takes one sample and returns the transitions since the previous one.
func (p *FocusPoller) poll(ctx context.Context) []domain.AppEvent {
	out, err := p.runner.Output(ctx, "osascript", "-e", frontmostScript)
	if err != nil {
		if ctx.Err() == nil {
			p.failures++
			// Log the first failure loudly; repeats (screen locked, no GUI session) at debug.
			if p.failures == 1 {
				p.logger.Warn("failed to query frontmost application", zap.Error(err))
			} else {
				p.logger.Debug("failed to query frontmost application", zap.Int("failures", p.failures), zap.Error(err))
			}
		}
		return nil
	}
	p.failures = 0

	front, err := parseFrontmost(string(out))
	if err != nil {
		p.logger.Debug("unparsable frontmost output", zap.String("output", string(out)), zap.Error(err))
		return nil
	}
	if front.DisplayName == "" && p.inspector != nil {
		if name, err := p.inspector.Name(front.PID); err == nil {
			front.DisplayName = name
		}
	}

	if p.current != nil && p.current.PID == front.PID {
		return nil
	}

	var events []domain.AppEvent
	if p.current != nil {
		prev := *p.current
		prev.Kind = domain.EventDeactivated
		events = append(events, prev)
	}
	front.Kind = domain.EventActivated
	events = append(events, front)
	p.current = &front
	return events
}

func parseFrontmost(s string) (domain.AppEvent, error) {
	fields := strings.SplitN(strings.TrimRight(s, "\r\n"), "\t", 3)
	if len(fields) != 3 {
		return domain.AppEvent{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return domain.AppEvent{}, fmt.Errorf("bad pid %q: %w", fields[0], err)
	}
	if pid <= 0 {
		return domain.AppEvent{}, fmt.Errorf("bad pid %d", pid)
	}
	return domain.AppEvent{
		PID:         pid,
		BundleID:    strings.TrimSpace(fields[1]),
		DisplayName: strings.TrimSpace(fields[2]),
	}, nil
}

// Ensure FocusPoller implements domain.EventSource.
var _ domain.EventSource = (*FocusPoller)(nil)

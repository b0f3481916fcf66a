package main

import (
	"context"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

// Island start hours in server-local time. 15:00 runs on weekends only.
var islandSchedules = []int{11, 13, 15, 19, 21, 23}

// islandLeadWindow is how far ahead of a start hour the alert fires.
const islandLeadWindow = 25 * time.Minute

// IslandTracker watches the adventure island schedule on a fixed timer
// and publishes alert or cleanup events. It is a pure event source, the
// engine owns all side effects.
type IslandTracker struct {
	cfg    *Config
	events chan<- Event
	alerts *AlertSink
	now    func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewIslandTracker(cfg *Config, events chan<- Event, alerts *AlertSink) *IslandTracker {
	return &IslandTracker{
		cfg:    cfg,
		events: events,
		alerts: alerts,
		now:    time.Now,
	}
}

func (t *IslandTracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.alerts.Notifyf(ctx, "setupTracker", "island tracker already started")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.running = true
	t.mu.Unlock()

	go t.loop(ctx)
}

func (t *IslandTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
	t.cancel = nil
	t.running = false
}

func (t *IslandTracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.BaseInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *IslandTracker) tick(ctx context.Context) {
	slog.Info("Executing islands schedule check")

	islands, err := LoadIslands(filepath.Join(t.cfg.AssetsPath, "islands.csv"))
	if err != nil {
		t.alerts.Notify(ctx, "setIslands", err)
		return
	}
	slog.Info("Loaded islands from file", "count", len(islands))
	if len(islands) == 0 {
		t.alerts.Notifyf(ctx, "setupTracker - onTick", "no islands found in file")
	}

	now := t.now()
	if startAt, soon := UpcomingIslandStart(now); soon {
		t.events <- IslandAlertEvent{Islands: DailyIslands(islands, now), StartAt: startAt}
	} else {
		t.events <- IslandsCleanupEvent{}
	}
}

// LoadIslands parses the semicolon-separated schedule file: name, date,
// comma-separated rewards, second-schedule flag.
func LoadIslands(path string) ([]Island, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	var islands []Island
	for i, row := range rows {
		if i == 0 || len(row) < 4 {
			continue
		}

		date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(row[1]), serverLocation)
		if err != nil {
			slog.Warn("Skipping island row with bad date", "row", i, "date", row[1])
			continue
		}

		islands = append(islands, Island{
			Name:             strings.TrimSpace(row[0]),
			Date:             date,
			Rewards:          ParseList(row[2]),
			IsSecondSchedule: strings.TrimSpace(row[3]) == "true",
		})
	}
	return islands, nil
}

// DailyIslands selects the rows appearing today in server time. Weekends
// run two schedules: after 15:00 only the second-schedule rows apply,
// before it only the first.
func DailyIslands(islands []Island, now time.Time) []Island {
	now = now.In(serverLocation)
	isWeekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	isSecondSchedule := now.Hour() > 15

	return lo.Filter(islands, func(island Island, _ int) bool {
		date := island.Date.In(serverLocation)
		if date.Day() != now.Day() || date.Month() != now.Month() {
			return false
		}
		if isWeekend && island.IsSecondSchedule != isSecondSchedule {
			return false
		}
		return true
	})
}

// UpcomingIslandStart reports the next island start when it is within the
// lead window (1 to 25 minutes away).
func UpcomingIslandStart(now time.Time) (time.Time, bool) {
	now = now.In(serverLocation)
	isWeekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday

	for _, hour := range islandSchedules {
		if hour == 15 && !isWeekend {
			continue
		}

		start := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, serverLocation)
		diff := start.Sub(now)
		if diff > 0 && diff <= islandLeadWindow {
			return start, true
		}
	}
	return time.Time{}, false
}

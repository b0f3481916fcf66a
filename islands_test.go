package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadIslands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "islands.csv")
	data := "name;date;rewards;isSecondSchedule\n" +
		"Isla del Prado;2026-08-28;Oro, Carta;false\n" +
		"Isla Brillante;2026-08-29;Moneda de la isla;true\n" +
		"Isla Rota;not-a-date;Oro;false\n" +
		"fila-corta;2026-08-28\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	islands, err := LoadIslands(path)
	require.NoError(t, err)
	require.Len(t, islands, 2)

	assert.Equal(t, "Isla del Prado", islands[0].Name)
	assert.Equal(t, []string{"Oro", "Carta"}, islands[0].Rewards)
	assert.False(t, islands[0].IsSecondSchedule)
	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, serverLocation), islands[0].Date)

	assert.True(t, islands[1].IsSecondSchedule)
}

func TestLoadIslandsMissingFile(t *testing.T) {
	_, err := LoadIslands(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestDailyIslands(t *testing.T) {
	// 2026-08-28 is a Friday, 2026-08-29 a Saturday.
	friday := []Island{
		{Name: "Primera", Date: time.Date(2026, 8, 28, 0, 0, 0, 0, serverLocation)},
		{Name: "Otra fecha", Date: time.Date(2026, 8, 27, 0, 0, 0, 0, serverLocation)},
	}
	saturday := []Island{
		{Name: "Mañana", Date: time.Date(2026, 8, 29, 0, 0, 0, 0, serverLocation)},
		{Name: "Tarde", Date: time.Date(2026, 8, 29, 0, 0, 0, 0, serverLocation), IsSecondSchedule: true},
	}

	t.Run("weekday ignores the schedule split", func(t *testing.T) {
		now := time.Date(2026, 8, 28, 12, 0, 0, 0, serverLocation)
		got := DailyIslands(friday, now)
		require.Len(t, got, 1)
		assert.Equal(t, "Primera", got[0].Name)
	})

	t.Run("weekend morning picks the first schedule", func(t *testing.T) {
		now := time.Date(2026, 8, 29, 10, 0, 0, 0, serverLocation)
		got := DailyIslands(saturday, now)
		require.Len(t, got, 1)
		assert.Equal(t, "Mañana", got[0].Name)
	})

	t.Run("weekend evening picks the second schedule", func(t *testing.T) {
		now := time.Date(2026, 8, 29, 18, 0, 0, 0, serverLocation)
		got := DailyIslands(saturday, now)
		require.Len(t, got, 1)
		assert.Equal(t, "Tarde", got[0].Name)
	})
}

func TestTrackerTick(t *testing.T) {
	cfg := testConfig()
	cfg.AssetsPath = t.TempDir()
	data := "name;date;rewards;isSecondSchedule\n" +
		"Isla del Prado;2026-08-28;Oro;false\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AssetsPath, "islands.csv"), []byte(data), 0644))

	store := newTestStore(t)
	chat := newFakeChat()
	chat.offline = true
	events := make(chan Event, 8)
	tracker := NewIslandTracker(cfg, events, NewAlertSink(store, chat))

	tracker.now = func() time.Time {
		return time.Date(2026, 8, 28, 10, 40, 0, 0, serverLocation)
	}
	tracker.tick(context.Background())

	alert, ok := (<-events).(IslandAlertEvent)
	require.True(t, ok)
	require.Len(t, alert.Islands, 1)
	assert.Equal(t, "Isla del Prado", alert.Islands[0].Name)
	assert.Equal(t, 11, alert.StartAt.In(serverLocation).Hour())

	// Outside the lead window the tick asks for cleanup instead.
	tracker.now = func() time.Time {
		return time.Date(2026, 8, 28, 12, 0, 0, 0, serverLocation)
	}
	tracker.tick(context.Background())

	_, ok = (<-events).(IslandsCleanupEvent)
	assert.True(t, ok)
}

func TestUpcomingIslandStart(t *testing.T) {
	t.Run("inside the lead window", func(t *testing.T) {
		now := time.Date(2026, 8, 28, 10, 40, 0, 0, serverLocation)
		start, soon := UpcomingIslandStart(now)
		require.True(t, soon)
		assert.Equal(t, time.Date(2026, 8, 28, 11, 0, 0, 0, serverLocation), start)
	})

	t.Run("too early", func(t *testing.T) {
		_, soon := UpcomingIslandStart(time.Date(2026, 8, 28, 10, 30, 0, 0, serverLocation))
		assert.False(t, soon)
	})

	t.Run("exactly at the start", func(t *testing.T) {
		_, soon := UpcomingIslandStart(time.Date(2026, 8, 28, 11, 0, 0, 0, serverLocation))
		assert.False(t, soon)
	})

	t.Run("15h run is weekend only", func(t *testing.T) {
		_, soon := UpcomingIslandStart(time.Date(2026, 8, 28, 14, 50, 0, 0, serverLocation))
		assert.False(t, soon)

		start, soon := UpcomingIslandStart(time.Date(2026, 8, 29, 14, 50, 0, 0, serverLocation))
		require.True(t, soon)
		assert.Equal(t, 15, start.Hour())
	})
}

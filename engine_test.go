package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, source MerchantSource) (*ReconciliationEngine, *SQLiteStore, *fakeChat) {
	t.Helper()
	cfg := testConfig()
	store := newTestStore(t)
	chat := newFakeChat()
	renderer := newTestRenderer(t, cfg)
	if source == nil {
		source = &fakeSource{}
	}
	engine := NewReconciliationEngine(cfg, store, chat, renderer, source, NewAlertSink(store, chat))
	return engine, store, chat
}

func registerChannel(t *testing.T, store RecordStore, channelID string, kind ChannelKind) {
	t.Helper()
	require.NoError(t, store.InsertChannel(context.Background(), ChannelRegistration{
		ChannelID: channelID, GuildID: "g-1", Kind: kind,
	}))
}

func merchantFound() MerchantFoundEvent {
	return MerchantFoundEvent{
		Server: "Yorn",
		Group: MerchantGroup{
			Server:          "Yorn",
			MerchantName:    "Ben",
			ActiveMerchants: []ActiveMerchant{testMerchant()},
		},
	}
}

func TestHandleMerchantFoundAnnouncesOnce(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	require.NoError(t, engine.HandleMerchantFound(ctx, merchantFound()))
	assert.Equal(t, 1, chat.sentCount())

	// Duplicate event for the same merchant is a no-op.
	require.NoError(t, engine.HandleMerchantFound(ctx, merchantFound()))
	assert.Equal(t, 1, chat.sentCount())

	records, err := store.FindRecords(ctx, Eq("merchantId", "merchant-1"))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestHandleMerchantFoundFansOut(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)
	registerChannel(t, store, "c-2", ChannelKindMerchants)
	registerChannel(t, store, "c-3", ChannelKindIslands)

	require.NoError(t, engine.HandleMerchantFound(ctx, merchantFound()))

	assert.Equal(t, 2, chat.sentCount())
	assert.Equal(t, 0, chat.editCount())

	records, err := store.FindRecords(ctx, Eq("merchantId", "merchant-1"))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHandleMerchantFoundFiltersUnremarkable(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	event := merchantFound()
	event.Group.ActiveMerchants[0].Cards = []Rarity{{Name: "Siera", Rarity: 1}}
	event.Group.ActiveMerchants[0].Rapports = []Rarity{{Name: "Gift", Rarity: 2}}

	require.NoError(t, engine.HandleMerchantFound(ctx, event))
	assert.Equal(t, 0, chat.sentCount())

	// A filtered merchant stays unseen: no record means a later vote
	// event is skipped rather than edited.
	records, err := store.FindRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHandleMerchantFoundRequiresReadyChat(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	registerChannel(t, store, "c-1", ChannelKindMerchants)
	chat.offline = true

	err := engine.HandleMerchantFound(context.Background(), merchantFound())
	assert.ErrorIs(t, err, ErrDiscordNotReady)
	assert.Equal(t, 0, chat.sentCount())
}

func TestHandleVotesChangedEditsInPlace(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	require.NoError(t, engine.HandleMerchantFound(ctx, merchantFound()))
	require.Equal(t, 1, chat.sentCount())

	require.NoError(t, engine.HandleVotesChanged(ctx, VotesChangedEvent{MerchantID: "merchant-1", Votes: 7}))

	assert.Equal(t, 1, chat.sentCount())
	assert.Equal(t, 1, chat.editCount())
	assert.Contains(t, chat.messageContent("msg-1"), "Votos: 7")
	assert.NotContains(t, chat.messageContent("msg-1"), "Votos: 3")
}

func TestHandleVotesChangedWithoutRecordSkips(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	err := engine.HandleVotesChanged(context.Background(), VotesChangedEvent{MerchantID: "merchant-9", Votes: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, chat.sentCount())
	assert.Equal(t, 0, chat.editCount())
}

func TestHandleActiveCheckExpiresMessages(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	require.NoError(t, engine.HandleMerchantFound(ctx, merchantFound()))
	require.Equal(t, 1, chat.sentCount())

	// An island row in the same channel must survive the merchant sweep.
	islandMsg, err := chat.Send(ctx, "c-1", "**Isla del Prado**\nEmpieza En: <t:100:R>")
	require.NoError(t, err)
	require.NoError(t, store.InsertRecord(ctx, NotificationRecord{
		MessageID: islandMsg, IslandName: "Isla del Prado", ChannelID: "c-1",
	}))

	require.NoError(t, engine.HandleActiveCheck(ctx, ActiveMerchantsEvent{}))

	assert.Contains(t, chat.messageContent("msg-1"), "Expirado: <t:")

	merchantRows, err := store.FindRecords(ctx, NotNull("merchantId"))
	require.NoError(t, err)
	assert.Empty(t, merchantRows)

	islandRows, err := store.FindRecords(ctx, NotNull("islandName"))
	require.NoError(t, err)
	assert.Len(t, islandRows, 1)
}

func TestHandleActiveCheckFailsSafe(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	require.NoError(t, engine.HandleMerchantFound(ctx, merchantFound()))

	// A failed poll must not trigger the sweep.
	require.NoError(t, engine.HandleActiveCheck(ctx, ActiveMerchantsEvent{Err: true}))
	// Neither does a poll that still reports active merchants.
	require.NoError(t, engine.HandleActiveCheck(ctx, ActiveMerchantsEvent{Groups: []MerchantGroup{{Server: "Yorn"}}}))

	assert.Equal(t, 0, chat.editCount())
	records, err := store.FindRecords(ctx, NotNull("merchantId"))
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestResyncIsIdempotent(t *testing.T) {
	source := &fakeSource{
		connected: true,
		groups:    []MerchantGroup{merchantFound().Group},
	}
	engine, store, chat := newTestEngine(t, source)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	require.NoError(t, engine.Resync(ctx))
	assert.Equal(t, 1, chat.sentCount())

	// Post-reconnect resync repeats without duplicating announcements.
	require.NoError(t, engine.Resync(ctx))
	assert.Equal(t, 1, chat.sentCount())
}

func TestResyncChannelTargetsOnlyNewChannel(t *testing.T) {
	source := &fakeSource{
		connected: true,
		groups:    []MerchantGroup{merchantFound().Group},
	}
	engine, store, chat := newTestEngine(t, source)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindMerchants)
	registerChannel(t, store, "c-2", ChannelKindMerchants)

	require.NoError(t, engine.ResyncChannel(ctx, "c-2"))

	require.Equal(t, 1, chat.sentCount())
	assert.Equal(t, "c-2", chat.sends[0].ChannelID)
}

func TestResyncRequiresHub(t *testing.T) {
	engine, store, _ := newTestEngine(t, &fakeSource{connected: false})
	registerChannel(t, store, "c-1", ChannelKindMerchants)

	err := engine.Resync(context.Background())
	assert.ErrorIs(t, err, ErrHubNotConnected)
}

func TestHandleIslandAlert(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindIslands)
	registerChannel(t, store, "c-2", ChannelKindMerchants)

	event := IslandAlertEvent{
		Islands: []Island{
			{Name: "Isla del Prado", Rewards: []string{"Oro"}},
			{Name: "Isla Brillante", Rewards: []string{"Carta"}},
		},
	}

	require.NoError(t, engine.HandleIslandAlert(ctx, event))
	assert.Equal(t, 2, chat.sentCount())

	// The tracker re-fires within the lead window; announcements do not.
	require.NoError(t, engine.HandleIslandAlert(ctx, event))
	assert.Equal(t, 2, chat.sentCount())

	records, err := store.FindRecords(ctx, NotNull("islandName"))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestHandleIslandsCleanup(t *testing.T) {
	engine, store, chat := newTestEngine(t, nil)
	ctx := context.Background()
	registerChannel(t, store, "c-1", ChannelKindIslands)

	event := IslandAlertEvent{Islands: []Island{{Name: "Isla del Prado", Rewards: []string{"Oro"}}}}
	require.NoError(t, engine.HandleIslandAlert(ctx, event))
	require.Equal(t, 1, chat.sentCount())

	require.NoError(t, engine.HandleIslandsCleanup(ctx))

	assert.Contains(t, chat.messageContent("msg-1"), "Terminó: <t:")
	records, err := store.FindRecords(ctx, NotNull("islandName"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

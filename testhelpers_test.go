package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig() *Config {
	return &Config{
		DiscordToken:           "token",
		MerchantsHubURL:        "wss://example.test/MerchantsHub",
		Servers:                []string{"Yorn"},
		CardRarityThreshold:    3,
		RapportRarityThreshold: 4,
		CardRarityMention:      5,
		BaseIntervalSeconds:    300,
	}
}

var testCatalog = map[string]MerchantInfo{
	"Ben":   {Region: "Yudia", AppearanceTimes: []string{"4:30", "10:30", "16:30", "22:30"}},
	"Lucas": {Region: "Luterra Oeste", AppearanceTimes: []string{"1:30", "13:30"}},
}

func newTestRenderer(t *testing.T, cfg *Config) *Renderer {
	t.Helper()
	cfg.AssetsPath = t.TempDir()

	data, err := json.Marshal(testCatalog)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AssetsPath, "merchants.json"), data, 0644))

	renderer, err := NewRenderer(cfg)
	require.NoError(t, err)
	return renderer
}

type sentMessage struct {
	ChannelID string
	Content   string
}

// fakeChat is an in-memory ChatMessenger recording sends and edits.
type fakeChat struct {
	mu      sync.Mutex
	offline bool
	nextID  int
	sends   []sentMessage
	content map[string]string
	edits   int
}

func newFakeChat() *fakeChat {
	return &fakeChat{content: map[string]string{}}
}

func (f *fakeChat) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.offline
}

func (f *fakeChat) Send(_ context.Context, channelID, content string, _ ...Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.sends = append(f.sends, sentMessage{ChannelID: channelID, Content: content})
	f.content[id] = content
	return id, nil
}

func (f *fakeChat) FetchByID(_ context.Context, _, messageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.content[messageID]
	if !ok {
		return "", oops.With("message_id", messageID).Errorf("message not found")
	}
	return content, nil
}

func (f *fakeChat) Edit(_ context.Context, _, messageID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.content[messageID]; !ok {
		return oops.With("message_id", messageID).Errorf("message not found")
	}
	f.content[messageID] = content
	f.edits++
	return nil
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeChat) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits
}

func (f *fakeChat) messageContent(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[id]
}

// fakeSource is a canned MerchantSource for resync tests.
type fakeSource struct {
	connected bool
	groups    []MerchantGroup
	errored   bool
}

func (f *fakeSource) IsConnected() bool { return f.connected }

func (f *fakeSource) PollActiveMerchants(_ context.Context) ([]MerchantGroup, bool) {
	return f.groups, f.errored
}

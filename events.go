package main

import "time"

// Event is the tagged union flowing through the supervisor's dispatch
// queue. The hub connection, the island tracker and the command handler
// publish; the reconciliation engine and the supervisor react. Handlers
// never see each other directly.
type Event interface {
	eventName() string
}

// MerchantFoundEvent announces a merchant group reported by the hub.
type MerchantFoundEvent struct {
	Server string
	Group  MerchantGroup
}

// VotesChangedEvent carries a new vote total for a merchant.
type VotesChangedEvent struct {
	MerchantID string
	Votes      int
}

// ActiveMerchantsEvent is the result of the periodic poll. Err marks a
// failed poll, which must never trigger the expiry sweep.
type ActiveMerchantsEvent struct {
	Groups []MerchantGroup
	Err    bool
}

// HubReconnectingEvent signals the hub connection dropped and the backoff
// walk started. Alerting only, no state is touched.
type HubReconnectingEvent struct {
	Reason error
}

// HubReconnectedEvent signals the subscriptions were re-established.
// The engine reacts with a full resync because pushes may have been
// missed while disconnected.
type HubReconnectedEvent struct{}

// HubConnectionErrorEvent escalates an unrecoverable connect failure to
// the supervisor, which retries Initialize after the long delay.
type HubConnectionErrorEvent struct {
	Err error
}

// IslandAlertEvent announces islands starting within the lead window.
type IslandAlertEvent struct {
	Islands []Island
	StartAt time.Time
}

// IslandsCleanupEvent triggers the island closing sweep.
type IslandsCleanupEvent struct{}

// ChannelRegisteredEvent asks for a targeted announce of currently active
// merchants to a channel that was just registered.
type ChannelRegisteredEvent struct {
	ChannelID string
}

func (MerchantFoundEvent) eventName() string      { return "MerchantFound" }
func (VotesChangedEvent) eventName() string       { return "MerchantVotesChanged" }
func (ActiveMerchantsEvent) eventName() string    { return "MerchantsListCheck" }
func (HubReconnectingEvent) eventName() string    { return "MerchantsHubReconnecting" }
func (HubReconnectedEvent) eventName() string     { return "MerchantsHubReconnected" }
func (HubConnectionErrorEvent) eventName() string { return "MerchantsConnectionError" }
func (IslandAlertEvent) eventName() string        { return "IslandAlert" }
func (IslandsCleanupEvent) eventName() string     { return "IslandsCleanup" }
func (ChannelRegisteredEvent) eventName() string  { return "ChannelRegistered" }

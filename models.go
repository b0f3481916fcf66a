package main

import (
	"time"
)

// ChannelRegistration is a chat channel registered to receive one
// notification category. Unique per (channel, guild, kind).
type ChannelRegistration struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channel_id"`
	GuildID   string      `json:"guild_id"`
	Kind      ChannelKind `json:"kind"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsAlert reports whether the registration is an alert destination.
// Kept as a derived view of Kind, older schemas stored it as a column.
func (c ChannelRegistration) IsAlert() bool {
	return c.Kind == ChannelKindAlerts
}

// NotificationRecord ties a sent chat message to the subject it announced.
// MerchantID is empty for island announcements, which are keyed by island
// name instead.
type NotificationRecord struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	MerchantID string    `json:"merchant_id,omitempty"`
	IslandName string    `json:"island_name,omitempty"`
	ChannelID  string    `json:"channel_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// MerchantGroup is the payload of an UpdateMerchantGroup push callback.
type MerchantGroup struct {
	Server          string           `json:"server"`
	MerchantName    string           `json:"merchantName"`
	ActiveMerchants []ActiveMerchant `json:"activeMerchants"`
}

// ActiveMerchant is one wandering merchant currently up on a server.
type ActiveMerchant struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Zone       string   `json:"zone"`
	Cards      []Rarity `json:"cards"`
	Rapports   []Rarity `json:"rapports"`
	Tradeskill string   `json:"tradeskill"`
	Votes      int      `json:"votes"`
}

// Rarity is a named item (card or rapport gift) with its rarity tier.
type Rarity struct {
	Name   string `json:"name"`
	Rarity int    `json:"rarity"`
}

// VoteUpdate is one entry of an UpdateVotes batch callback.
type VoteUpdate struct {
	ID    string `json:"id"`
	Votes int    `json:"votes"`
}

// Island is one row of the adventure island schedule data file.
type Island struct {
	Name             string    `json:"name"`
	Date             time.Time `json:"date"`
	Rewards          []string  `json:"rewards"`
	IsSecondSchedule bool      `json:"is_second_schedule"`
}

// MerchantInfo is the static catalog entry for a merchant name: its region
// and the hours it can appear at, in server-local "H:MM" form.
type MerchantInfo struct {
	Region          string   `json:"Region"`
	AppearanceTimes []string `json:"AppearanceTimes"`
}

var rarityNames = map[int]string{
	0: "Common",
	1: "Uncommon",
	2: "Rare",
	3: "Epic",
	4: "Legendary",
}

// RarityName returns the display name for a rarity tier.
func RarityName(rarity int) string {
	if name, ok := rarityNames[rarity]; ok {
		return name
	}
	return "Unknown"
}

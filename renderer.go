package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

// Game servers run on UTC-4 regardless of where the bot is deployed.
var serverLocation = time.FixedZone("UTC-4", -4*60*60)

const appearanceWindow = 5*time.Hour + 30*time.Minute

var (
	votesPattern       = regexp.MustCompile(`Votos: -?[0-9]+`)
	expirationPattern  = regexp.MustCompile(`Expiración: <t:([0-9]+):R>`)
	islandStartPattern = regexp.MustCompile(`Empieza En: <t:([0-9]+):R>`)
)

// Renderer maps domain events to the exact message text and attachments
// sent to channels. The textual markers it emits (Votos, Expiración,
// Empieza En) are what the in-place rewrites later match on, so their
// shape is load-bearing.
type Renderer struct {
	cfg     *Config
	catalog map[string]MerchantInfo
}

func NewRenderer(cfg *Config) (*Renderer, error) {
	path := filepath.Join(cfg.AssetsPath, "merchants.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	var catalog map[string]MerchantInfo
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, oops.With("path", path).Wrap(err)
	}

	return &Renderer{cfg: cfg, catalog: catalog}, nil
}

// Notable applies the notability filter: any card at or above the card
// threshold, any rapport at or above the rapport threshold, or a
// whitelisted card name.
func (r *Renderer) Notable(merchant ActiveMerchant) bool {
	if lo.SomeBy(merchant.Cards, func(c Rarity) bool {
		return c.Rarity >= r.cfg.CardRarityThreshold
	}) {
		return true
	}
	if lo.SomeBy(merchant.Rapports, func(rp Rarity) bool {
		return rp.Rarity >= r.cfg.RapportRarityThreshold
	}) {
		return true
	}
	return lo.SomeBy(merchant.Cards, func(c Rarity) bool {
		return r.cfg.IsWhitelisted(c.Name)
	})
}

// RenderMerchant produces the announcement content and attachment path
// for one active merchant.
func (r *Renderer) RenderMerchant(server string, merchant ActiveMerchant, now time.Time) (string, string) {
	mention := ""
	if role, ok := r.cfg.ServerRoles[server]; ok && role != "" {
		if lo.SomeBy(merchant.Cards, func(c Rarity) bool {
			return c.Rarity >= r.cfg.CardRarityMention
		}) {
			mention = fmt.Sprintf("<@&%s>", role)
		}
	}

	region := "??"
	if info, ok := r.catalog[merchant.Name]; ok && info.Region != "" {
		region = info.Region
	}

	cards := strings.Join(lo.Map(merchant.Cards, func(c Rarity, _ int) string {
		return fmt.Sprintf("%s (%s)", c.Name, RarityName(c.Rarity))
	}), " | ")
	rapports := strings.Join(lo.Map(merchant.Rapports, func(rp Rarity, _ int) string {
		return fmt.Sprintf("%s (%s)", rp.Name, RarityName(rp.Rarity))
	}), " | ")

	item := merchant.Tradeskill
	if item == "" {
		item = "--"
	}

	content := fmt.Sprintf(`%s
Expiración: <t:%d:R>

**%s**

`+"```"+`
Nombre: %s
Región: %s
Zona: %s
Cartas: %s
Rapports: %s
Item: %s
Votos: %d
`+"```",
		mention,
		r.ExpirationTime(merchant.Name, now).Unix(),
		strings.ToUpper(server),
		merchant.Name,
		region,
		merchant.Zone,
		cards,
		rapports,
		item,
		merchant.Votes,
	)

	attachment := filepath.Join(r.cfg.AssetsPath, "zones", merchant.Zone+".jpg")
	return content, attachment
}

// ExpirationTime resolves the end of the appearance window the merchant
// is currently inside. Windows last 5h30m from the top of the appearance
// hour; windows opened before midnight still match during the first hours
// of the next day. Falls back to now+window when the catalog has no entry.
func (r *Renderer) ExpirationTime(merchantName string, now time.Time) time.Time {
	now = now.In(serverLocation)

	info, ok := r.catalog[merchantName]
	if !ok {
		return now.Add(appearanceWindow)
	}

	for _, appearance := range info.AppearanceTimes {
		hour, ok := appearanceHour(appearance)
		if !ok {
			continue
		}

		day := now
		if now.Hour() <= 3 && hour >= 22 {
			day = day.AddDate(0, 0, -1)
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, serverLocation)
		end := start.Add(appearanceWindow)

		if !now.Before(start) && !now.After(end) {
			return end
		}
	}

	return now.Add(appearanceWindow)
}

// ReplaceVotes rewrites the vote counter in place, preserving every other
// rendered field verbatim.
func (r *Renderer) ReplaceVotes(content string, votes int) string {
	return votesPattern.ReplaceAllString(content, fmt.Sprintf("Votos: %d", votes))
}

// RewriteExpired turns the relative expiration marker into the past-tense
// absolute one. Reports whether the marker was present.
func (r *Renderer) RewriteExpired(content string) (string, bool) {
	if !expirationPattern.MatchString(content) {
		return content, false
	}
	return expirationPattern.ReplaceAllString(content, "Expirado: <t:$1:f>"), true
}

// RenderIsland produces the announcement content and attachment path for
// one upcoming adventure island.
func (r *Renderer) RenderIsland(island Island, startAt time.Time) (string, string) {
	content := fmt.Sprintf(`
**%s**
Empieza En: <t:%d:R>
Recompenzas: %s`,
		island.Name,
		startAt.Unix(),
		strings.Join(island.Rewards, ", "),
	)

	attachment := filepath.Join(r.cfg.AssetsPath, "islands", island.Name+".png")
	return content, attachment
}

// RewriteIslandEnded turns the island start marker into the closed one.
func (r *Renderer) RewriteIslandEnded(content string) (string, bool) {
	if !islandStartPattern.MatchString(content) {
		return content, false
	}
	return islandStartPattern.ReplaceAllString(content, "Terminó: <t:$1:f>"), true
}

func appearanceHour(appearance string) (int, bool) {
	hourPart, _, _ := strings.Cut(appearance, ":")
	var hour int
	if _, err := fmt.Sscanf(hourPart, "%d", &hour); err != nil {
		return 0, false
	}
	return hour, true
}

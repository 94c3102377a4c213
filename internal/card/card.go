// Package card renders osu! profiles as Discord embeds.
package card

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/stellarlinkco/osulink/internal/osu"
)

const (
	ColorBlurple = 0x5865F2
	Footer       = "osu! api v2"
)

// Profile builds the public card for p. p must carry statistics; the osu
// client never returns a profile without them.
func Profile(p *osu.Profile) *discordgo.MessageEmbed {
	stats := p.Statistics
	return &discordgo.MessageEmbed{
		Type:      discordgo.EmbedTypeRich,
		Title:     "osu! profile: " + p.Username,
		Color:     ColorBlurple,
		Thumbnail: &discordgo.MessageEmbedThumbnail{URL: p.AvatarURL},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "pp", Value: FormatPP(stats.PP), Inline: true},
			{Name: "rank", Value: FormatRank(stats.GlobalRank), Inline: true},
			{Name: "accuracy", Value: FormatAccuracy(stats.HitAccuracy), Inline: true},
			{Name: "playcount", Value: strconv.FormatInt(stats.PlayCount, 10), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: Footer},
	}
}

// FormatPP prints pp in its shortest exact decimal form.
func FormatPP(pp float64) string {
	return strconv.FormatFloat(pp, 'f', -1, 64)
}

// FormatRank prefixes the global rank with "#". Unranked players show "#-".
func FormatRank(rank *int64) string {
	if rank == nil {
		return "#-"
	}
	return "#" + strconv.FormatInt(*rank, 10)
}

func FormatAccuracy(acc float64) string {
	return fmt.Sprintf("%.2f%%", acc)
}

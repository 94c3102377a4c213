package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/stellarlinkco/osulink/internal/card"
	"github.com/stellarlinkco/osulink/internal/metrics"
	"github.com/stellarlinkco/osulink/internal/osu"
)

const (
	commandLink    = "link"
	commandProfile = "profile"
	optionUsername = "username"
)

const (
	msgLinked     = "linked to osu! user `%s`"
	msgLinkFirst  = "you need to `/link` your osu! account first."
	msgNotFound   = "couldn't find osu! profile. check your link."
	msgFailed     = "something went wrong, try again later."
	msgNotAllowed = "you are not allowed to use this bot."
)

type commandHandler func(ctx context.Context, i *discordgo.Interaction, userID string, data discordgo.ApplicationCommandInteractionData)

// Commands is the schema published to Discord.
func Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        commandLink,
			Description: "link your osu! username",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionUsername,
					Description: "your osu! username",
					Required:    true,
				},
			},
		},
		{
			Name:        commandProfile,
			Description: "show your linked osu! profile stats",
		},
	}
}

// Dispatch routes one interaction to its command handler.
func (d *DiscordChannel) Dispatch(ctx context.Context, i *discordgo.Interaction) {
	if i == nil {
		return
	}
	if i.Type != discordgo.InteractionApplicationCommand {
		d.logger.Debug("ignoring interaction", zap.String("interaction_id", i.ID), zap.Stringer("type", i.Type))
		return
	}
	data := i.ApplicationCommandData()
	log := d.logger.With(zap.String("command", data.Name), zap.String("interaction_id", i.ID))

	user, err := interactionUser(i)
	if err != nil {
		log.Warn("dropping interaction", zap.Error(err))
		return
	}

	if !d.IsAllowed(user.ID) {
		log.Info("rejected interaction", zap.String("user_id", user.ID), zap.String("username", user.Username))
		d.metrics.ObserveCommand(data.Name, metrics.OutcomeDenied)
		d.respondPrivately(i, msgNotAllowed)
		return
	}

	handler, ok := d.commands[data.Name]
	if !ok {
		log.Debug("no handler for command")
		d.metrics.ObserveCommand(data.Name, metrics.OutcomeUnhandled)
		return
	}
	handler(ctx, i, user.ID, data)
}

func (d *DiscordChannel) handleLink(_ context.Context, i *discordgo.Interaction, userID string, data discordgo.ApplicationCommandInteractionData) {
	username := optionMap(data.Options).String(optionUsername)

	if err := d.store.Link(userID, username); err != nil {
		d.logger.Error("link failed", zap.String("user_id", userID), zap.Error(err))
		d.metrics.ObserveCommand(commandLink, metrics.OutcomeError)
		d.respondPrivately(i, msgFailed)
		return
	}
	d.metrics.ObserveCommand(commandLink, metrics.OutcomeLinked)
	d.metrics.SetLinks(d.store.Len())
	d.respondPrivately(i, fmt.Sprintf(msgLinked, username))
}

func (d *DiscordChannel) handleProfile(ctx context.Context, i *discordgo.Interaction, userID string, _ discordgo.ApplicationCommandInteractionData) {
	username, ok := d.store.Lookup(userID)
	if !ok {
		d.metrics.ObserveCommand(commandProfile, metrics.OutcomeUnlinked)
		d.respondPrivately(i, msgLinkFirst)
		return
	}

	session := d.currentSession()
	if session == nil {
		return
	}
	// Discord wants an ack within 3s and the lookup makes two calls, so defer
	// now. The card is public, so the deferral is too: the channel briefly
	// sees a "thinking" placeholder even when the outcome ends up as a
	// private follow-up below.
	err := session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		d.logger.Error("defer response failed", zap.String("interaction_id", i.ID), zap.Error(err))
		d.metrics.ObserveCommand(commandProfile, metrics.OutcomeError)
		return
	}

	profile, err := d.profiles.Profile(ctx, username)
	switch {
	case errors.Is(err, osu.ErrProfileNotFound):
		d.metrics.ObserveCommand(commandProfile, metrics.OutcomeNotFound)
		d.replacePrivately(i, msgNotFound)
		return
	case err != nil:
		d.logger.Error("profile lookup failed",
			zap.String("user_id", userID),
			zap.String("osu_username", username),
			zap.Error(err),
		)
		d.metrics.ObserveCommand(commandProfile, metrics.OutcomeError)
		d.replacePrivately(i, msgFailed)
		return
	}

	embeds := []*discordgo.MessageEmbed{card.Profile(profile)}
	if _, err := session.InteractionResponseEdit(i, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		d.logger.Error("send profile card failed", zap.String("interaction_id", i.ID), zap.Error(err))
		d.metrics.ObserveCommand(commandProfile, metrics.OutcomeError)
		return
	}
	d.metrics.ObserveCommand(commandProfile, metrics.OutcomeShown)
}

func (d *DiscordChannel) respondPrivately(i *discordgo.Interaction, content string) {
	session := d.currentSession()
	if session == nil {
		return
	}
	err := session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		d.logger.Error("respond failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

// replacePrivately drops the public deferred reply and answers with an
// ephemeral follow-up instead.
func (d *DiscordChannel) replacePrivately(i *discordgo.Interaction, content string) {
	session := d.currentSession()
	if session == nil {
		return
	}
	if err := session.InteractionResponseDelete(i); err != nil {
		d.logger.Warn("delete deferred response failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
	_, err := session.FollowupMessageCreate(i, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		d.logger.Error("follow-up failed", zap.String("interaction_id", i.ID), zap.Error(err))
	}
}

// interactionUser returns the invoker: Member.User in guilds, User in DMs.
func interactionUser(i *discordgo.Interaction) (*discordgo.User, error) {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User, nil
	}
	if i.User != nil {
		return i.User, nil
	}
	return nil, fmt.Errorf("interaction %s has no user", i.ID)
}

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) commandOptions {
	m := make(commandOptions, len(options))
	for _, opt := range options {
		m[opt.Name] = opt
	}
	return m
}

func (o commandOptions) String(name string) string {
	opt, ok := o[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

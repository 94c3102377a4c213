package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/stellarlinkco/osulink/internal/config"
	"github.com/stellarlinkco/osulink/internal/metrics"
	"github.com/stellarlinkco/osulink/internal/osu"
)

const discordChannelName = "discord"

// DiscordSession is the part of *discordgo.Session the bot needs (allows
// mocking).
type DiscordSession interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	UpdateGameStatus(idle int, name string) error
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionResponseDelete(interaction *discordgo.Interaction, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SessionFactory creates DiscordSession instances (allows mocking)
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	// Slash commands arrive without any privileged intent.
	s.Identify.Intents = discordgo.IntentsGuilds
	return s, nil
}

// LinkStore is the link table the commands read and write.
type LinkStore interface {
	Link(chatUserID, username string) error
	Lookup(chatUserID string) (string, bool)
	Len() int
}

// ProfileFetcher resolves an osu! username to a fresh profile.
type ProfileFetcher interface {
	Profile(ctx context.Context, username string) (*osu.Profile, error)
}

// Options for creating a DiscordChannel
type Options struct {
	SessionFactory SessionFactory
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	// OnReady runs after command registration on every Ready event.
	OnReady func()
}

type DiscordChannel struct {
	cfg       config.DiscordConfig
	allowFrom map[string]bool
	store     LinkStore
	profiles  ProfileFetcher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	onReady   func()
	factory   SessionFactory
	commands  map[string]commandHandler

	mu       sync.Mutex
	session  DiscordSession
	ctx      context.Context
	cancel   context.CancelFunc
	removers []func()
}

func NewDiscordChannel(cfg config.DiscordConfig, store LinkStore, profiles ProfileFetcher, opts Options) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if store == nil || profiles == nil {
		return nil, fmt.Errorf("discord channel needs a link store and a profile fetcher")
	}

	factory := opts.SessionFactory
	if factory == nil {
		factory = defaultSessionFactory
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &DiscordChannel{
		cfg:       cfg,
		allowFrom: make(map[string]bool, len(cfg.AllowFrom)),
		store:     store,
		profiles:  profiles,
		logger:    logger,
		metrics:   opts.Metrics,
		onReady:   opts.OnReady,
		factory:   factory,
		ctx:       context.Background(),
	}
	for _, id := range cfg.AllowFrom {
		d.allowFrom[id] = true
	}
	d.commands = map[string]commandHandler{
		commandLink:    d.handleLink,
		commandProfile: d.handleProfile,
	}
	return d, nil
}

func (d *DiscordChannel) Name() string {
	return discordChannelName
}

// IsAllowed reports whether userID may use the bot. An empty allow-list
// admits everyone.
func (d *DiscordChannel) IsAllowed(userID string) bool {
	if len(d.allowFrom) == 0 {
		return true
	}
	return d.allowFrom[userID]
}

// Start opens the gateway connection. Command registration happens once
// Discord reports Ready.
func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := d.factory(d.cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	d.mu.Lock()
	d.session = session
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.removers = append(d.removers,
		session.AddHandler(d.handleReady),
		session.AddHandler(d.handleInteraction),
	)
	d.mu.Unlock()

	if err := session.Open(); err != nil {
		d.cancel()
		return fmt.Errorf("open discord session: %w", err)
	}
	d.logger.Info("gateway connection opened")
	return nil
}

func (d *DiscordChannel) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
	}
	for _, remove := range d.removers {
		if remove != nil {
			remove()
		}
	}
	d.removers = nil

	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	d.session = nil
	d.logger.Info("stopped")
	if err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

// SetSession sets the session (for testing)
func (d *DiscordChannel) SetSession(s DiscordSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.session = s
}

// SetStatus replaces the bot's "Playing ..." activity.
func (d *DiscordChannel) SetStatus(text string) error {
	session := d.currentSession()
	if session == nil {
		return errors.New("discord session not started")
	}
	return session.UpdateGameStatus(0, text)
}

// RegisterCommands publishes the command schema, replacing whatever the
// application had registered before.
func (d *DiscordChannel) RegisterCommands(appID string) (int, error) {
	session := d.currentSession()
	if session == nil {
		return 0, errors.New("discord session not started")
	}
	if appID == "" {
		return 0, errors.New("application id unknown")
	}
	created, err := session.ApplicationCommandBulkOverwrite(appID, d.cfg.GuildID, Commands())
	if err != nil {
		return 0, fmt.Errorf("register commands: %w", err)
	}
	return len(created), nil
}

func (d *DiscordChannel) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		d.logger.Info("ready", zap.String("user", r.User.Username), zap.String("user_id", r.User.ID))
	}

	// Registration failure leaves the bot running with whatever schema
	// Discord already has.
	n, err := d.RegisterCommands(d.appID(r))
	if err != nil {
		d.logger.Error("command registration failed", zap.Error(err))
	} else {
		d.logger.Info("registered commands", zap.Int("count", n), zap.String("guild_id", d.cfg.GuildID))
	}

	if d.onReady != nil {
		d.onReady()
	}
}

func (d *DiscordChannel) appID(r *discordgo.Ready) string {
	if d.cfg.AppID != "" {
		return d.cfg.AppID
	}
	if r.Application != nil && r.Application.ID != "" {
		return r.Application.ID
	}
	if r.User != nil {
		return r.User.ID
	}
	return ""
}

func (d *DiscordChannel) handleInteraction(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	d.Dispatch(ctx, ic.Interaction)
}

func (d *DiscordChannel) currentSession() DiscordSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/stellarlinkco/osulink/internal/osu"
)

// fakeSession records every call the channel makes against Discord.
type fakeSession struct {
	mu sync.Mutex

	handlers  []interface{}
	removed   int
	opened    bool
	closed    bool
	openErr   error
	closeErr  error
	statuses  []string
	statusErr error

	registeredApp   string
	registeredGuild string
	registered      []*discordgo.ApplicationCommand
	registerErr     error

	responses  []*discordgo.InteractionResponse
	respondErr error
	edits      []*discordgo.WebhookEdit
	editErr    error
	deletes    int
	followups  []*discordgo.WebhookParams
}

func (f *fakeSession) AddHandler(handler interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.removed++
	}
}

func (f *fakeSession) Open() error {
	f.opened = true
	return f.openErr
}

func (f *fakeSession) Close() error {
	f.closed = true
	return f.closeErr
}

func (f *fakeSession) UpdateGameStatus(_ int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, name)
	return f.statusErr
}

func (f *fakeSession) ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registeredApp = appID
	f.registeredGuild = guildID
	f.registered = commands
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return commands, nil
}

func (f *fakeSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f.respondErr
}

func (f *fakeSession) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	return &discordgo.Message{}, f.editErr
}

func (f *fakeSession) InteractionResponseDelete(_ *discordgo.Interaction, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	return nil
}

func (f *fakeSession) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, data)
	return &discordgo.Message{}, nil
}

// memStore is an in-memory LinkStore.
type memStore struct {
	mu    sync.Mutex
	links map[string]string
	err   error
}

func newMemStore() *memStore {
	return &memStore{links: map[string]string{}}
}

func (m *memStore) Link(id, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.links[id] = username
	return nil
}

func (m *memStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

func (m *memStore) Lookup(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.links[id]
	return name, ok
}

// fakeFetcher returns a canned profile or error and counts calls.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   []string
	profile *osu.Profile
	err     error
}

func (f *fakeFetcher) Profile(_ context.Context, username string) (*osu.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, username)
	return f.profile, f.err
}

var errBoom = errors.New("boom")

func int64p(v int64) *int64 { return &v }

func testProfile() *osu.Profile {
	return &osu.Profile{
		ID:        124493,
		Username:  "Cookiezi",
		AvatarURL: "https://a.ppy.sh/124493",
		Statistics: &osu.Statistics{
			PP:          4512.3,
			GlobalRank:  int64p(1500),
			HitAccuracy: 98.7654,
			PlayCount:   12345,
		},
	}
}

// command builds a guild slash-command interaction from userID.
func command(userID, name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:     "ix-" + name,
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: userID, Username: "user" + userID}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    name,
			Options: options,
		},
	}
}

func usernameOption(v string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  optionUsername,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: v,
	}
}

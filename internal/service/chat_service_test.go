package service

import (
	"context"
	"testing"
	"time"

	"teamhub-be/internal/dto"
	"teamhub-be/internal/entity"
	"teamhub-be/internal/fanout"
	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/session"
	"teamhub-be/internal/transport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannelRepo struct {
	channels map[uuid.UUID]*entity.Channel
}

func newFakeChannelRepo() *fakeChannelRepo {
	return &fakeChannelRepo{channels: make(map[uuid.UUID]*entity.Channel)}
}

func (r *fakeChannelRepo) Create(ctx context.Context, channel *entity.Channel) error {
	r.channels[channel.Id] = channel
	return nil
}

func (r *fakeChannelRepo) FindById(ctx context.Context, id uuid.UUID) (*entity.Channel, error) {
	return r.channels[id], nil
}

func (r *fakeChannelRepo) FindAllByTeamId(ctx context.Context, teamId uuid.UUID) ([]*entity.Channel, error) {
	var out []*entity.Channel
	for _, c := range r.channels {
		if c.TeamId == teamId {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeMessageRepo struct {
	messages  map[uuid.UUID]*entity.Message
	reactions map[uuid.UUID]*entity.Reaction
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		messages:  make(map[uuid.UUID]*entity.Message),
		reactions: make(map[uuid.UUID]*entity.Reaction),
	}
}

func (r *fakeMessageRepo) Create(ctx context.Context, message *entity.Message) error {
	r.messages[message.Id] = message
	return nil
}

func (r *fakeMessageRepo) FindByChannelId(ctx context.Context, channelId uuid.UUID, limit, offset int) ([]*entity.Message, int64, error) {
	var out []*entity.Message
	for _, m := range r.messages {
		if m.ChannelId == channelId {
			out = append(out, m)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeMessageRepo) FindById(ctx context.Context, id uuid.UUID) (*entity.Message, error) {
	return r.messages[id], nil
}

func (r *fakeMessageRepo) FindReaction(ctx context.Context, messageId, userId uuid.UUID, emoji string) (*entity.Reaction, error) {
	for _, re := range r.reactions {
		if re.MessageId == messageId && re.UserId == userId && re.Emoji == emoji {
			return re, nil
		}
	}
	return nil, nil
}

func (r *fakeMessageRepo) CreateReaction(ctx context.Context, reaction *entity.Reaction) error {
	r.reactions[reaction.Id] = reaction
	return nil
}

func (r *fakeMessageRepo) DeleteReaction(ctx context.Context, id uuid.UUID) error {
	delete(r.reactions, id)
	return nil
}

func (r *fakeMessageRepo) FindReactionsByMessageIds(ctx context.Context, messageIds []uuid.UUID) ([]*entity.Reaction, error) {
	var out []*entity.Reaction
	for _, re := range r.reactions {
		for _, id := range messageIds {
			if re.MessageId == id {
				out = append(out, re)
			}
		}
	}
	return out, nil
}

func chatFixture(t *testing.T) (IChatService, *fakeMessageRepo, *transport.GoChannel) {
	t.Helper()
	bus := transport.NewGoChannel(logger.NewNopLogger())
	t.Cleanup(func() { bus.Close() })
	messageRepo := newFakeMessageRepo()
	svc := NewChatService(newFakeChannelRepo(), messageRepo, bus, logger.NewNopLogger())
	return svc, messageRepo, bus
}

func caller() dto.UserIdentity {
	return dto.UserIdentity{Id: uuid.New(), Name: "Alice", Image: "alice.png"}
}

func TestSendMessageStoresThenBroadcasts(t *testing.T) {
	svc, repo, bus := chatFixture(t)
	ctx := context.Background()
	channelId := uuid.New()

	sub, err := bus.Subscribe(ctx, session.ChatChannel(channelId.String()), transport.KindPlain, transport.Member{ID: "listener"})
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	user := caller()
	res, err := svc.SendMessage(ctx, user, &dto.SendMessageRequest{
		ChannelId: channelId,
		Body:      "hello there",
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	stored, ok := repo.messages[res.Id]
	require.True(t, ok, "message must be durably stored")
	assert.Equal(t, "hello there", stored.Body)
	assert.Equal(t, user.Id, stored.UserId)

	select {
	case ev := <-sub.Events():
		require.Equal(t, fanout.EventNewMessage, ev.Name)
		var msg fanout.Message
		require.NoError(t, transport.Decode(ev, &msg))
		assert.Equal(t, res.Id.String(), msg.ID)
		assert.Equal(t, "hello there", msg.Body)
		assert.Equal(t, user.Id.String(), msg.Author.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestToggleReactionFlipsStoredState(t *testing.T) {
	svc, repo, bus := chatFixture(t)
	ctx := context.Background()
	channelId := uuid.New()
	user := caller()

	sent, err := svc.SendMessage(ctx, user, &dto.SendMessageRequest{ChannelId: channelId, Body: "react"})
	require.NoError(t, err)

	sub, err := bus.Subscribe(ctx, session.ChatChannel(channelId.String()), transport.KindPlain, transport.Member{ID: "listener"})
	require.NoError(t, err)
	t.Cleanup(sub.Close)

	res, err := svc.ToggleReaction(ctx, user, &dto.ToggleReactionRequest{MessageId: sent.Id, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, fanout.ActionAdded, res.Action)
	assert.Len(t, repo.reactions, 1)

	res, err = svc.ToggleReaction(ctx, user, &dto.ToggleReactionRequest{MessageId: sent.Id, Emoji: "👍"})
	require.NoError(t, err)
	assert.Equal(t, fanout.ActionRemoved, res.Action)
	assert.Empty(t, repo.reactions)

	// Both toggles broadcast.
	for _, want := range []string{fanout.ActionAdded, fanout.ActionRemoved} {
		select {
		case ev := <-sub.Events():
			require.Equal(t, fanout.EventMessageReaction, ev.Name)
			var re fanout.ReactionEvent
			require.NoError(t, transport.Decode(ev, &re))
			assert.Equal(t, want, re.Action)
		case <-time.After(2 * time.Second):
			t.Fatalf("reaction broadcast %s never arrived", want)
		}
	}
}

func TestToggleReactionUnknownMessage(t *testing.T) {
	svc, _, _ := chatFixture(t)

	_, err := svc.ToggleReaction(context.Background(), caller(), &dto.ToggleReactionRequest{
		MessageId: uuid.New(),
		Emoji:     "👍",
	})
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestGetMessagesAggregatesReactions(t *testing.T) {
	svc, _, _ := chatFixture(t)
	ctx := context.Background()
	channelId := uuid.New()
	user := caller()

	sent, err := svc.SendMessage(ctx, user, &dto.SendMessageRequest{ChannelId: channelId, Body: "popular"})
	require.NoError(t, err)
	_, err = svc.ToggleReaction(ctx, user, &dto.ToggleReactionRequest{MessageId: sent.Id, Emoji: "🎉"})
	require.NoError(t, err)

	res, err := svc.GetMessages(ctx, channelId, 50, 0)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, []string{user.Id.String()}, res.Messages[0].Reactions["🎉"])
}

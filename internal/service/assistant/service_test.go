package assistant_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/internal/service/ai"
	"github.com/zhouzirui/xiaohao/backend/internal/service/assistant"
	"github.com/zhouzirui/xiaohao/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/xiaohao/backend/internal/service/chat"
	personaservice "github.com/zhouzirui/xiaohao/backend/internal/service/persona"
	"github.com/zhouzirui/xiaohao/backend/internal/storage"
)

type fixture struct {
	assistant *assistant.Service
	users     *auth.Service
	chats     *chatservice.Service
	personas  *personaservice.Service
	backend   *scriptedBackend
}

type scriptedBackend struct {
	reply    string
	messages []chatmodel.Message
	opts     ai.Options
}

func (b *scriptedBackend) Complete(_ context.Context, messages []chatmodel.Message, opts ai.Options) (*ai.Response, error) {
	b.messages = messages
	b.opts = opts
	msg := chatmodel.AssistantMessage(b.reply)
	return &ai.Response{Message: &msg}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)

	personas := personaservice.NewService(store)
	personas.EnsureDefaults(context.Background())
	chats := chatservice.NewService(store)
	backend := &scriptedBackend{reply: "你好！"}
	handler := ai.NewMessageHandler(backend, ai.DefaultProfiles())

	return &fixture{
		assistant: assistant.NewService(chats, personas, handler),
		users:     auth.NewService(store),
		chats:     chats,
		personas:  personas,
		backend:   backend,
	}
}

func (f *fixture) login(t *testing.T, username string) assistant.Session {
	t.Helper()
	ctx := context.Background()
	_, err := f.users.Register(ctx, username, "pw")
	require.NoError(t, err)
	id, err := f.users.Authenticate(ctx, username, "pw")
	require.NoError(t, err)
	return assistant.Session{UserID: id, Username: username}
}

func TestEndToEndRegisterChatAppend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t, "alice")

	sess, c, err := f.assistant.NewChat(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "default", c.PersonaID())
	created := c.UpdatedAt

	_, err = f.chats.AppendOwnedMessage(ctx, sess.UserID, sess.ChatID, chatmodel.RoleUser, "hi")
	require.NoError(t, err)

	got, err := f.chats.LoadForOwner(ctx, sess.UserID, sess.ChatID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hi", got.Messages[0].Content)
	assert.True(t, got.UpdatedAt.After(created))
}

func TestSendMessageCreatesChatAndPersistsTurn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t, "alice")

	sess, reply, err := f.assistant.SendMessage(ctx, sess, "你好")
	require.NoError(t, err)
	assert.Equal(t, "你好！", reply.Content)
	assert.NotEmpty(t, sess.ChatID)
	assert.Equal(t, "default", sess.PersonaID)

	require.Len(t, f.backend.messages, 2)
	assert.Equal(t, "你是一个乐于助人的AI助手。", f.backend.messages[0].Content)

	stored, err := f.chats.LoadForOwner(ctx, sess.UserID, sess.ChatID)
	require.NoError(t, err)
	assert.Equal(t, []chatmodel.Message{
		chatmodel.UserMessage("你好"),
		chatmodel.AssistantMessage("你好！"),
	}, stored.Messages)

	_, _, err = f.assistant.SendMessage(ctx, sess, "再说一遍")
	require.NoError(t, err)
	require.Len(t, f.backend.messages, 4, "history must be forwarded")
	assert.Equal(t, "再说一遍", f.backend.messages[3].Content)
}

func TestSendMessageDeepThinking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.assistant.SetDeepThinking(f.login(t, "alice"), true)
	f.backend.reply = "<think>推理</think>结论"

	_, reply, err := f.assistant.SendMessage(ctx, sess, "问题")
	require.NoError(t, err)
	assert.Equal(t, 2048, f.backend.opts.MaxOutputTokens)
	assert.Contains(t, reply.Content, "> 推理")

	sess = f.assistant.SetDeepThinking(sess, false)
	_, reply, err = f.assistant.SendMessage(ctx, sess, "问题")
	require.NoError(t, err)
	assert.Equal(t, "结论", reply.Content)
}

func TestSendMessageRejectsEmptyAndAnonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.assistant.SendMessage(ctx, assistant.Session{}, "hi")
	assert.ErrorIs(t, err, assistant.ErrNotAuthenticated)

	_, _, err = f.assistant.SendMessage(ctx, f.login(t, "alice"), "   ")
	assert.ErrorIs(t, err, assistant.ErrEmptyMessage)
}

func TestSendMessageIntoForeignChatIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	alice, _, err := f.assistant.NewChat(ctx, alice)
	require.NoError(t, err)

	bob.ChatID = alice.ChatID
	_, _, err = f.assistant.SendMessage(ctx, bob, "偷看")
	assert.ErrorIs(t, err, chatservice.ErrNotOwner)

	_, _, err = f.assistant.SelectChat(ctx, bob, alice.ChatID)
	assert.ErrorIs(t, err, chatservice.ErrNotOwner)
}

func TestSelectPersonaUpdatesCurrentChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t, "alice")

	sess, _, err := f.assistant.NewChat(ctx, sess)
	require.NoError(t, err)

	_, err = f.assistant.SelectPersona(ctx, sess, "nobody")
	assert.ErrorIs(t, err, assistant.ErrUnknownPersona)

	sess, err = f.assistant.SelectPersona(ctx, sess, "medical")
	require.NoError(t, err)
	assert.Equal(t, "medical", sess.PersonaID)

	list := f.chats.ListForUser(ctx, sess.UserID)
	require.Len(t, list, 1)
	assert.Equal(t, "medical", list[0].PersonaID)

	_, _, err = f.assistant.SendMessage(ctx, sess, "头疼怎么办")
	require.NoError(t, err)
	assert.Contains(t, f.backend.messages[0].Content, "医疗领域")
}

func TestSelectChatAdoptsPersona(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t, "alice")
	sess.PersonaID = "legal"

	sess, first, err := f.assistant.NewChat(ctx, sess)
	require.NoError(t, err)

	sess.PersonaID = "default"
	sess, _, err = f.assistant.NewChat(ctx, sess)
	require.NoError(t, err)

	sess, c, err := f.assistant.SelectChat(ctx, sess, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, sess.ChatID)
	assert.Equal(t, "legal", sess.PersonaID)
	assert.Equal(t, first.ID, c.ID)
}

func TestCreatePersonaSelectsIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t, "alice")

	sess, p, err := f.assistant.CreatePersona(ctx, sess, "poet", "诗人", "写诗", "你是一位诗人。")
	require.NoError(t, err)
	assert.Equal(t, "poet", p.ID)
	assert.Equal(t, "poet", sess.PersonaID)

	_, _, err = f.assistant.CreatePersona(ctx, sess, "poet", "诗人", "", "x")
	assert.ErrorIs(t, err, personaservice.ErrPersonaExists)

	_, _, err = f.assistant.SendMessage(ctx, sess, "写一首")
	require.NoError(t, err)
	assert.Equal(t, "你是一位诗人。", f.backend.messages[0].Content)
}

func TestDanglingPersonaFallsBackToDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.login(t, "alice")

	c, err := f.chats.Create(ctx, sess.UserID, "deleted-persona")
	require.NoError(t, err)

	sess, _, err = f.assistant.SelectChat(ctx, sess, c.ID)
	require.NoError(t, err)

	sess, _, err = f.assistant.SendMessage(ctx, sess, "hi")
	require.NoError(t, err)
	assert.Equal(t, "default", sess.PersonaID)
	assert.Equal(t, "你是一个乐于助人的AI助手。", f.backend.messages[0].Content)
}

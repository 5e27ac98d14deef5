package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"tgwatch/internal/config"
	"tgwatch/internal/filter"
	"tgwatch/internal/model"
	"tgwatch/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID    int64
	Channel   string
	Text      string
	ParseMode string
}

type mockAPI struct {
	mu      sync.Mutex
	sent    []sentMsg
	sendErr error
	chats   map[string]int64
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.mu.Lock()
		m.sent = append(m.sent, sentMsg{
			ChatID:    msg.ChatID,
			Channel:   msg.ChannelUsername,
			Text:      msg.Text,
			ParseMode: msg.ParseMode,
		})
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(_ tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	id, ok := m.chats[cfg.SuperGroupUsername]
	if !ok {
		return tgbotapi.Chat{}, errors.New("Bad Request: chat not found")
	}
	return tgbotapi.Chat{ID: id}, nil
}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) all() []sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMsg(nil), m.sent...)
}

type mockHandler struct {
	mu        sync.Mutex
	messages  []model.Message
	reloads   int
	reloadErr error
	verdict   filter.Verdict
	loaded    bool
	checked   string
}

func (h *mockHandler) HandleMessage(_ context.Context, msg model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *mockHandler) Reload(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads++
	return h.reloadErr
}

func (h *mockHandler) Check(channelID, _ string) (filter.Verdict, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checked = channelID
	return h.verdict, h.loaded
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite, *mockHandler) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{chats: map[string]int64{"@deals": -1009876}}
	h := &mockHandler{}
	b := &Bot{
		api:     api,
		store:   store,
		cfg:     &config.Config{AlertChatID: "-100555"},
		handler: h,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return b, api, store, h
}

func seedChannel(t *testing.T, store *storage.SQLite, ref, name string, keywords ...string) *model.Channel {
	t.Helper()
	ctx := context.Background()
	ch := &model.Channel{Ref: ref, Name: name, IsEnabled: true}
	if err := store.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	for _, v := range keywords {
		if err := store.AddKeyword(ctx, &model.Keyword{ChannelID: ch.ID, Value: v}); err != nil {
			t.Fatalf("seed keyword: %v", err)
		}
	}
	return ch
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

// --- transport tests ---

func TestHandleUpdateDispatch(t *testing.T) {
	tests := []struct {
		name   string
		update tgbotapi.Update
		want   []model.Message
	}{
		{
			name: "channel post with text link",
			update: tgbotapi.Update{ChannelPost: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: -1001, Type: "channel"},
				Text: "New deal\ndetails",
				Entities: []tgbotapi.MessageEntity{
					{Type: "bold", Offset: 0, Length: 3},
					{Type: "text_link", Offset: 4, Length: 4, URL: "https://nodeseek.com/post-1"},
				},
			}},
			want: []model.Message{{
				ChannelID: "-1001",
				Text:      "New deal\ndetails",
				Links:     []model.LinkAnnotation{{URL: "https://nodeseek.com/post-1"}},
			}},
		},
		{
			name: "caption of media post",
			update: tgbotapi.Update{ChannelPost: &tgbotapi.Message{
				Chat:    &tgbotapi.Chat{ID: -1002, Type: "channel"},
				Caption: "photo caption",
				CaptionEntities: []tgbotapi.MessageEntity{
					{Type: "text_link", URL: "https://linux.do/t/1"},
				},
			}},
			want: []model.Message{{
				ChannelID: "-1002",
				Text:      "photo caption",
				Links:     []model.LinkAnnotation{{URL: "https://linux.do/t/1"}},
			}},
		},
		{
			name: "supergroup message",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: -1003, Type: "supergroup"},
				From: &tgbotapi.User{ID: 7},
				Text: "hello group",
			}},
			want: []model.Message{{ChannelID: "-1003", Text: "hello group"}},
		},
		{
			name: "empty post ignored",
			update: tgbotapi.Update{ChannelPost: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: -1004, Type: "channel"},
				Text: "   ",
			}},
		},
		{
			name: "private non-command ignored",
			update: tgbotapi.Update{Message: &tgbotapi.Message{
				Chat: &tgbotapi.Chat{ID: 7, Type: "private"},
				From: &tgbotapi.User{ID: 7},
				Text: "hi",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _, h := newTestBot(t)
			b.handleUpdate(context.Background(), tt.update)
			if diff := cmp.Diff(tt.want, h.messages); diff != "" {
				t.Errorf("dispatched messages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleUpdateAccessDenied(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.cfg.AllowedUsers = []int64{1}

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 9, Type: "private"},
		From:     &tgbotapi.User{ID: 9},
		Text:     "/list",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}})
	requireContains(t, api.lastText(), "Access denied")
}

func TestHandleUpdateCommand(t *testing.T) {
	b, api, store, _ := newTestBot(t)
	seedChannel(t, store, "-1001", "Deals")

	b.handleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 9, Type: "private"},
		From:     &tgbotapi.User{ID: 9},
		Text:     "/list",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 5}},
	}})
	requireContains(t, api.lastText(), `#1 "Deals" [active]`)
}

func TestSendAlert(t *testing.T) {
	tests := []struct {
		name   string
		chatID string
		want   sentMsg
	}{
		{
			name:   "numeric chat",
			chatID: "-100555",
			want:   sentMsg{ChatID: -100555, Text: "<b>x</b>", ParseMode: "HTML"},
		},
		{
			name:   "channel username",
			chatID: "@alerts",
			want:   sentMsg{Channel: "@alerts", Text: "<b>x</b>", ParseMode: "HTML"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, _, _ := newTestBot(t)
			b.cfg.AlertChatID = tt.chatID
			if err := b.SendAlert(context.Background(), "<b>x</b>"); err != nil {
				t.Fatalf("send alert: %v", err)
			}
			if diff := cmp.Diff([]sentMsg{tt.want}, api.all()); diff != "" {
				t.Errorf("sent mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSendAlertError(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	api.sendErr = errors.New("Too Many Requests")
	if err := b.SendAlert(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveChannel(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "positive id", ref: "1234", want: "-1001234"},
		{name: "full id", ref: "-1001234", want: "-1001234"},
		{name: "username", ref: "@deals", want: "-1009876"},
		{name: "t.me link", ref: "https://t.me/deals", want: "-1009876"},
		{name: "feed url", ref: "https://example.com/rss", want: "https://example.com/rss"},
		{name: "unknown username", ref: "@nobody", wantErr: true},
		{name: "garbage", ref: "deals", wantErr: true},
		{name: "empty", ref: " ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _, _, _ := newTestBot(t)
			got, err := b.ResolveChannel(context.Background(), tt.ref)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ResolveChannel() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// --- handler tests ---

func TestHandleStartAndHelp(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "/add <channel>")

	b.handleHelp(100)
	requireContains(t, api.lastText(), "/kw <id> <keyword>")
	requireContains(t, api.lastText(), "/regex/ims")
}

func TestHandleAdd(t *testing.T) {
	ctx := context.Background()

	t.Run("empty args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleAdd(ctx, 100, "")
		requireContains(t, api.lastText(), "usage: /add")
	})

	t.Run("unresolvable", func(t *testing.T) {
		b, api, store, h := newTestBot(t)
		b.handleAdd(ctx, 100, "@nobody")
		requireContains(t, api.lastText(), "Cannot resolve @nobody")

		channels, _ := store.ListChannels(ctx)
		if diff := cmp.Diff(0, len(channels)); diff != "" {
			t.Errorf("channel count (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(0, h.reloads); diff != "" {
			t.Errorf("reloads (-want +got):\n%s", diff)
		}
	})

	t.Run("success reloads", func(t *testing.T) {
		b, api, store, h := newTestBot(t)
		b.handleAdd(ctx, 100, "@deals VPS Deals")
		requireContains(t, api.lastText(), `#1 "VPS Deals"`)

		ch, err := store.GetChannelByRef(ctx, "@deals")
		if err != nil {
			t.Fatalf("get channel: %v", err)
		}
		if diff := cmp.Diff("VPS Deals", ch.Name); diff != "" {
			t.Errorf("name (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(1, h.reloads); diff != "" {
			t.Errorf("reloads (-want +got):\n%s", diff)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedChannel(t, store, "-1001", "")
		b.handleAdd(ctx, 100, "-1001")
		requireContains(t, api.lastText(), "Failed to save channel")
	})
}

func TestHandleList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleList(ctx, 100)
		requireContains(t, api.lastText(), "No channels yet")
	})

	t.Run("with keywords", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedChannel(t, store, "-1001", "A", "AI", "-air")
		seedChannel(t, store, "@deals", "")

		b.handleList(ctx, 100)
		reply := api.lastText()
		requireContains(t, reply, `#1 "A" [active]`)
		requireContains(t, reply, "2 keyword(s)")
		requireContains(t, reply, "#2 @deals")
	})
}

func TestHandleInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleInfo(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /info")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleInfo(ctx, 100, "999")
		requireContains(t, api.lastText(), "#999 not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedChannel(t, store, "-1001", "Deals", "AI")
		b.handleInfo(ctx, 100, "1")
		reply := api.lastText()
		requireContains(t, reply, `#1 "Deals" [active]`)
		requireContains(t, reply, "K1: AI")
	})
}

func TestHandleRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleRemove(ctx, 100, "abc")
		requireContains(t, api.lastText(), "Usage: /remove")
	})

	t.Run("not found", func(t *testing.T) {
		b, api, _, h := newTestBot(t)
		b.handleRemove(ctx, 100, "999")
		requireContains(t, api.lastText(), "not found")
		if diff := cmp.Diff(0, h.reloads); diff != "" {
			t.Errorf("reloads (-want +got):\n%s", diff)
		}
	})

	t.Run("success", func(t *testing.T) {
		b, api, store, h := newTestBot(t)
		seedChannel(t, store, "-1001", "Doomed", "x")
		b.handleRemove(ctx, 100, "1")
		requireContains(t, api.lastText(), `#1 "Doomed" removed`)

		channels, _ := store.ListChannels(ctx)
		if diff := cmp.Diff(0, len(channels)); diff != "" {
			t.Errorf("channels should be empty (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(1, h.reloads); diff != "" {
			t.Errorf("reloads (-want +got):\n%s", diff)
		}
	})
}

func TestHandlePauseResume(t *testing.T) {
	ctx := context.Background()
	b, api, store, h := newTestBot(t)
	seedChannel(t, store, "-1001", "Feed")

	b.handleSetEnabled(ctx, 100, "1", false)
	requireContains(t, api.lastText(), "paused")
	ch, _ := store.GetChannel(ctx, 1)
	if diff := cmp.Diff(false, ch.IsEnabled); diff != "" {
		t.Errorf("IsEnabled after pause (-want +got):\n%s", diff)
	}

	b.handleSetEnabled(ctx, 100, "1", true)
	requireContains(t, api.lastText(), "resumed")
	ch, _ = store.GetChannel(ctx, 1)
	if diff := cmp.Diff(true, ch.IsEnabled); diff != "" {
		t.Errorf("IsEnabled after resume (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(2, h.reloads); diff != "" {
		t.Errorf("reloads (-want +got):\n%s", diff)
	}

	b.handleSetEnabled(ctx, 100, "", false)
	requireContains(t, api.lastText(), "Usage: /pause")
}

func TestHandleAddKeyword(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		args      string
		wantReply string
		wantSaved []string
	}{
		{name: "bad args", args: "1", wantReply: "usage: /kw"},
		{name: "unknown channel", args: "9 AI", wantReply: "#9 not found"},
		{name: "word", args: "1 AI", wantReply: "K1 added to #1", wantSaved: []string{"AI"}},
		{name: "exclusion", args: "1 -air", wantReply: "(exclusion, word)", wantSaved: []string{"-air"}},
		{name: "cjk", args: "1 测评", wantReply: "(cjk)", wantSaved: []string{"测评"}},
		{name: "regex", args: `1 /\bGPU\b/i`, wantReply: "(regex)", wantSaved: []string{`/\bGPU\b/i`}},
		{name: "invalid regex rejected", args: "1 /[/", wantReply: "Invalid keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api, store, _ := newTestBot(t)
			seedChannel(t, store, "-1001", "")

			b.handleAddKeyword(ctx, 100, tt.args)
			requireContains(t, api.lastText(), tt.wantReply)

			keywords, _ := store.ListKeywords(ctx, 1)
			var got []string
			for _, kw := range keywords {
				got = append(got, kw.Value)
			}
			if diff := cmp.Diff(tt.wantSaved, got); diff != "" {
				t.Errorf("saved keywords (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleRmKeyword(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleRmKeyword(ctx, 100, "5")
		requireContains(t, api.lastText(), "K5 not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, store, h := newTestBot(t)
		seedChannel(t, store, "-1001", "", "AI", "GPU")
		b.handleRmKeyword(ctx, 100, "1")
		requireContains(t, api.lastText(), `K1 "AI" removed from #1`)

		keywords, _ := store.ListKeywords(ctx, 1)
		if diff := cmp.Diff(1, len(keywords)); diff != "" {
			t.Errorf("keyword count (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(1, h.reloads); diff != "" {
			t.Errorf("reloads (-want +got):\n%s", diff)
		}
	})
}

func TestHandleKeywords(t *testing.T) {
	b, api, store, _ := newTestBot(t)
	seedChannel(t, store, "-1001", "Deals", "AI", "测评")

	b.handleKeywords(context.Background(), 100, "1")
	requireContains(t, api.lastText(), `Keywords for #1 "Deals"`)
	requireContains(t, api.lastText(), "K2: 测评")
}

func TestHandleTest(t *testing.T) {
	ctx := context.Background()

	t.Run("matched", func(t *testing.T) {
		b, api, store, h := newTestBot(t)
		seedChannel(t, store, "@deals", "", "AI")
		h.loaded = true
		h.verdict = filter.Verdict{Matched: true, Keyword: "AI"}

		b.handleTest(ctx, 100, "1 new AI model")
		requireContains(t, api.lastText(), `matched "AI"`)
		if diff := cmp.Diff("-1009876", h.checked); diff != "" {
			t.Errorf("checked channel (-want +got):\n%s", diff)
		}
	})

	t.Run("not loaded", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedChannel(t, store, "-1001", "")
		b.handleTest(ctx, 100, "1 anything")
		requireContains(t, api.lastText(), "is not loaded")
	})

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleTest(ctx, 100, "1")
		requireContains(t, api.lastText(), "usage: /test")
	})
}

func TestHandleReload(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		b, api, _, h := newTestBot(t)
		b.handleReload(ctx, 100)
		requireContains(t, api.lastText(), "Rulesets reloaded")
		if diff := cmp.Diff(1, h.reloads); diff != "" {
			t.Errorf("reloads (-want +got):\n%s", diff)
		}
	})

	t.Run("failure reported", func(t *testing.T) {
		b, api, _, h := newTestBot(t)
		h.reloadErr = errors.New("database is locked")
		b.handleReload(ctx, 100)
		requireContains(t, api.lastText(), "Reload failed: database is locked")
	})
}

func TestMutationsRefusedWhenFileManaged(t *testing.T) {
	ctx := context.Background()

	for _, text := range []string{"/add @deals", "/remove 1", "/pause 1", "/resume 1", "/kw 1 AI", "/rmkw 1"} {
		t.Run(text, func(t *testing.T) {
			b, api, store, h := newTestBot(t)
			b.cfg.ChannelsFile = "config.json"
			seedChannel(t, store, "-1001", "", "AI")

			cmdLen := strings.Index(text, " ")
			b.handleCommand(ctx, &tgbotapi.Message{
				Chat:     &tgbotapi.Chat{ID: 100, Type: "private"},
				Text:     text,
				Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
			})
			requireContains(t, api.lastText(), "managed in config.json")
			if diff := cmp.Diff(0, h.reloads); diff != "" {
				t.Errorf("reloads (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()
	cb := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb",
			From:    &tgbotapi.User{ID: 1},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
			Data:    data,
		}
	}

	t.Run("keywords", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedChannel(t, store, "-1001", "", "AI")
		b.handleCallback(ctx, cb("keywords:1"))
		requireContains(t, api.lastText(), "K1: AI")
	})

	t.Run("delete confirm then delete", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedChannel(t, store, "-1001", "X")
		b.handleCallback(ctx, cb("delete_confirm:1"))
		requireContains(t, api.lastText(), "Stop monitoring #1")

		b.handleCallback(ctx, cb("delete:1"))
		requireContains(t, api.lastText(), "removed")
		if _, err := store.GetChannel(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected channel deleted, got %v", err)
		}
	})

	t.Run("malformed data ignored", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleCallback(ctx, cb("garbage"))
		b.handleCallback(ctx, cb("pause:x"))
		if diff := cmp.Diff(0, len(api.all())); diff != "" {
			t.Errorf("messages sent (-want +got):\n%s", diff)
		}
	})
}

package audit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestLogRingOrderAndCapacity(t *testing.T) {
	rec := &recorder{}
	l := NewLog(3, nil, rec)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		l.Emit(ctx, Event{Kind: KindRemoved, ItemID: int64(i)})
	}

	got := l.List(0)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{got[0].ItemID, got[1].ItemID, got[2].ItemID})
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Time.IsZero())

	assert.Len(t, l.List(2), 2)
	assert.Len(t, rec.events, 5, "notifiers see every event")
}

func TestLogPartialRing(t *testing.T) {
	l := NewLog(10, nil)
	l.Emit(context.Background(), Event{Kind: KindLogin, Message: "a"})
	l.Emit(context.Background(), Event{Kind: KindLogin, Message: "b"})
	got := l.List(5)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
}

func TestWarningKinds(t *testing.T) {
	assert.True(t, KindExpirySkipped.Warning())
	assert.True(t, KindSessionInvalid.Warning())
	assert.False(t, KindRemoved.Warning())
}

func fakeBot(sent chan<- string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"guard","username":"guard_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if err := r.ParseForm(); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			sent <- r.PostForm.Get("chat_id") + "|" + r.PostForm.Get("text")
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":99,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestTelegramForwardsWarnings(t *testing.T) {
	sent := make(chan string, 4)
	srv := fakeBot(sent)
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{
		Token:        "T0KEN",
		ChatID:       99,
		WarningsOnly: true,
		Endpoint:     srv.URL + "/bot%s/%s",
		Client:       srv.Client(),
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tg.Run(ctx)

	tg.Notify(Event{Kind: KindRemoved, ItemID: 1, Message: "ignored"})
	tg.Notify(Event{Kind: KindExpirySkipped, ItemID: 7, Status: "seeding", Message: "deadline passed"})

	select {
	case msg := <-sent:
		assert.True(t, strings.HasPrefix(msg, "99|"), msg)
		assert.Contains(t, msg, "expiry_skipped_policy_disabled #7 [seeding]")
		assert.Contains(t, msg, "deadline passed")
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
	select {
	case msg := <-sent:
		t.Fatalf("non-warning forwarded: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTelegramRequiresChat(t *testing.T) {
	_, err := NewTelegram(TelegramConfig{Token: "x"}, nil)
	assert.Error(t, err)
}

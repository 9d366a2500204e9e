package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/dbkeeper/internal/domain"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, domain.Notification) error {
	s.calls++
	return s.err
}

func TestWebhook(t *testing.T) {
	Convey("Given a webhook endpoint", t, func() {
		var payload map[string]string
		status := http.StatusOK
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&payload)
			w.WriteHeader(status)
			w.Write([]byte("no_text"))
		}))
		defer server.Close()

		hook := NewWebhook(server.URL)
		n := domain.Notification{Subject: "Backup succeeded", Message: "app_full.sql.gz stored"}

		Convey("It posts the subject in bold followed by the message", func() {
			So(hook.Notify(context.Background(), n), ShouldBeNil)
			So(payload["text"], ShouldEqual, "*Backup succeeded*\napp_full.sql.gz stored")
		})

		Convey("A non-2xx reply is an error", func() {
			status = http.StatusBadRequest
			err := hook.Notify(context.Background(), n)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "no_text")
		})
	})
}

func TestTelegram(t *testing.T) {
	Convey("Given a Telegram notifier", t, func() {
		bot := &fakeSender{}
		tg := &Telegram{bot: bot, chatID: 42}

		Convey("It sends a text message", func() {
			So(tg.Notify(context.Background(), domain.Notification{Subject: "s", Message: "m"}), ShouldBeNil)
			So(len(bot.sent), ShouldEqual, 1)
			msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
			So(ok, ShouldBeTrue)
			So(msg.Text, ShouldEqual, "s\n\nm")
			So(msg.ChatID, ShouldEqual, 42)
		})

		Convey("It sends small attachments as documents when enabled", func() {
			tg.sendFile = true
			path := filepath.Join(t.TempDir(), "app.sql.gz")
			So(os.WriteFile(path, []byte("x"), 0644), ShouldBeNil)

			So(tg.Notify(context.Background(), domain.Notification{Subject: "s", Attachment: path}), ShouldBeNil)
			_, ok := bot.sent[0].(tgbotapi.DocumentConfig)
			So(ok, ShouldBeTrue)
		})

		Convey("Send failures are reported", func() {
			bot.err = errors.New("chat not found")
			So(tg.Notify(context.Background(), domain.Notification{Message: "m"}), ShouldNotBeNil)
		})
	})
}

func TestMulti(t *testing.T) {
	Convey("Given several notifiers", t, func() {
		ok := &stubNotifier{}
		failing := &stubNotifier{err: errors.New("boom")}

		Convey("Every notifier is called and failures are joined", func() {
			err := Multi{failing, ok}.Notify(context.Background(), domain.Notification{})
			So(err, ShouldNotBeNil)
			So(ok.calls, ShouldEqual, 1)
			So(failing.calls, ShouldEqual, 1)
		})

		Convey("An empty set is a no-op", func() {
			So(Multi{}.Notify(context.Background(), domain.Notification{}), ShouldBeNil)
		})
	})
}

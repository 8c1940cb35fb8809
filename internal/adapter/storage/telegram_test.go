package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
)

type fakeBot struct {
	sent    []tgbotapi.Chattable
	meErr   error
	chatErr error
	chats   []int64
}

func (f *fakeBot) GetMe() (tgbotapi.User, error) {
	return tgbotapi.User{UserName: "vigil_bot"}, f.meErr
}

func (f *fakeBot) GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	f.chats = append(f.chats, config.ChatID)
	return tgbotapi.Chat{ID: config.ChatID}, f.chatErr
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramStorage(t *testing.T) {
	Convey("Given a Telegram uploader", t, func() {
		bot := &fakeBot{}
		tg := &TelegramStorage{bot: bot, chatID: 7, sendFile: true}
		artifact := domain.Artifact{
			Target:    "primary",
			Name:      "backup_nightly_20261016_120000.zip",
			Path:      "/var/backups/backup_nightly_20261016_120000.zip",
			Size:      1024,
			SHA256:    "abc",
			Databases: []string{"app"},
			CreatedAt: time.Now(),
		}

		Convey("Small artifacts should be sent as documents", func() {
			So(tg.UploadArtifact(context.Background(), artifact), ShouldBeNil)
			doc, ok := bot.sent[0].(tgbotapi.DocumentConfig)
			So(ok, ShouldBeTrue)
			So(doc.Caption, ShouldContainSubstring, "SHA256: abc")
		})

		Convey("Large artifacts should only be announced", func() {
			artifact.Size = 60 * 1024 * 1024
			So(tg.UploadArtifact(context.Background(), artifact), ShouldBeNil)
			msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
			So(ok, ShouldBeTrue)
			So(msg.Text, ShouldContainSubstring, "Databases: app")
		})

		Convey("notify_only should never send the file", func() {
			tg.notifyOnly = true
			So(tg.UploadArtifact(context.Background(), artifact), ShouldBeNil)
			_, ok := bot.sent[0].(tgbotapi.MessageConfig)
			So(ok, ShouldBeTrue)
		})
	})

	Convey("An invalid chat id should be rejected before contacting Telegram", t, func() {
		_, err := NewTelegram(&config.UploadTarget{BotToken: "t", ChatID: "not-a-number"})
		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "chat_id")
	})
}

func TestTelegramCheck(t *testing.T) {
	Convey("Given a Telegram uploader", t, func() {
		bot := &fakeBot{}
		tg := &TelegramStorage{bot: bot, chatID: 7}

		Convey("Check should authenticate and look up the chat", func() {
			So(tg.Check(context.Background()), ShouldBeNil)
			So(bot.chats, ShouldResemble, []int64{7})
		})

		Convey("Check should fail on a bad token before touching the chat", func() {
			bot.meErr = errors.New("Unauthorized")
			So(tg.Check(context.Background()), ShouldNotBeNil)
			So(len(bot.chats), ShouldEqual, 0)
		})

		Convey("Check should fail when the chat is unreachable", func() {
			bot.chatErr = errors.New("Bad Request: chat not found")
			err := tg.Check(context.Background())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "chat 7")
		})
	})
}

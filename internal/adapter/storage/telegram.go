package storage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
)

const telegramMaxFileMB = 50

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetMe() (tgbotapi.User, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

type TelegramStorage struct {
	bot        telegramAPI
	chatID     int64
	sendFile   bool
	notifyOnly bool
}

var (
	_ domain.ArtifactUploader = (*TelegramStorage)(nil)
	_ domain.Checker          = (*TelegramStorage)(nil)
)

func NewTelegram(cfg *config.UploadTarget) (*TelegramStorage, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat_id %q: %w", cfg.ChatID, err)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramStorage{
		bot:        bot,
		chatID:     chatID,
		sendFile:   cfg.SendFile,
		notifyOnly: cfg.NotifyOnly,
	}, nil
}

// Check verifies the bot token and that the bot can reach the chat.
func (t *TelegramStorage) Check(ctx context.Context) error {
	if _, err := t.bot.GetMe(); err != nil {
		return fmt.Errorf("telegram bot authentication failed: %w", err)
	}
	if _, err := t.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: t.chatID}}); err != nil {
		return fmt.Errorf("failed to access telegram chat %d: %w", t.chatID, err)
	}
	return ctx.Err()
}

func (t *TelegramStorage) UploadArtifact(ctx context.Context, artifact domain.Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sizeMB := float64(artifact.Size) / (1024 * 1024)

	if t.notifyOnly || !t.sendFile || sizeMB > telegramMaxFileMB {
		message := fmt.Sprintf(
			"✅ Backup Created\n\n"+
				"🔌 Connection: %s\n"+
				"📁 Databases: %s\n"+
				"📦 File: %s\n"+
				"📊 Size: %.2f MB\n"+
				"🕐 Time: %s",
			artifact.Target,
			strings.Join(artifact.Databases, ", "),
			artifact.Name,
			sizeMB,
			artifact.CreatedAt.Format("2006-01-02 15:04:05"),
		)
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, message)); err != nil {
			return fmt.Errorf("failed to send telegram notification: %w", err)
		}
		return nil
	}

	file := tgbotapi.NewDocument(t.chatID, tgbotapi.FilePath(artifact.Path))
	file.Caption = fmt.Sprintf("📦 Backup: %s (%.2f MB)", artifact.Name, sizeMB)
	if artifact.SHA256 != "" {
		file.Caption += "\nSHA256: " + artifact.SHA256
	}
	if _, err := t.bot.Send(file); err != nil {
		return fmt.Errorf("failed to send telegram file: %w", err)
	}
	return nil
}

func (t *TelegramStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	fileInfo, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return t.UploadArtifact(ctx, domain.Artifact{
		Name:      remoteName,
		Path:      localPath,
		Size:      fileInfo.Size(),
		CreatedAt: fileInfo.ModTime(),
	})
}

func (t *TelegramStorage) List(ctx context.Context) ([]string, error) {
	// Telegram doesn't support listing files
	return []string{}, nil
}

func (t *TelegramStorage) Delete(ctx context.Context, remoteName string) error {
	return nil
}

func (t *TelegramStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	return []string{}, nil
}

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
)

const defaultDiscordMaxFileMB = 8

// discordAPI is the part of *discordgo.Session the uploader needs.
type discordAPI interface {
	Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// DiscordStorage posts each artifact as a thread in a forum channel,
// creating the channel on first use.
type DiscordStorage struct {
	api       discordAPI
	guildID   string
	forum     string
	maxBytes  int64
	mu        sync.Mutex
	channelID string
}

var (
	_ domain.ArtifactUploader = (*DiscordStorage)(nil)
	_ domain.Checker          = (*DiscordStorage)(nil)
)

func NewDiscord(cfg *config.UploadTarget) (*DiscordStorage, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	return newDiscord(session, cfg), nil
}

func newDiscord(api discordAPI, cfg *config.UploadTarget) *DiscordStorage {
	forum := cfg.ForumChannel
	if forum == "" {
		forum = "backups"
	}
	maxMB := cfg.MaxFileMB
	if maxMB <= 0 {
		maxMB = defaultDiscordMaxFileMB
	}
	return &DiscordStorage{
		api:      api,
		guildID:  cfg.GuildID,
		forum:    forum,
		maxBytes: int64(maxMB) * 1024 * 1024,
	}
}

func (d *DiscordStorage) forumChannel(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelID != "" {
		return d.channelID, nil
	}

	channels, err := d.api.GuildChannels(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to list discord channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Name == d.forum && ch.Type == discordgo.ChannelTypeGuildForum {
			d.channelID = ch.ID
			return ch.ID, nil
		}
	}

	ch, err := d.api.GuildChannelCreate(d.guildID, d.forum, discordgo.ChannelTypeGuildForum, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to create discord forum channel: %w", err)
	}
	d.channelID = ch.ID
	return ch.ID, nil
}

// Check verifies that the bot can see the guild and list its channels.
func (d *DiscordStorage) Check(ctx context.Context) error {
	guild, err := d.api.Guild(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to access discord guild %s: %w", d.guildID, err)
	}
	if _, err := d.api.GuildChannels(d.guildID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to list channels of %s: %w", guild.Name, err)
	}
	return nil
}

func (d *DiscordStorage) UploadArtifact(ctx context.Context, artifact domain.Artifact) error {
	channelID, err := d.forumChannel(ctx)
	if err != nil {
		return err
	}

	thread := &discordgo.ThreadStart{
		Name: fmt.Sprintf("Backup %s - %s", artifact.Target, artifact.CreatedAt.UTC().Format("2006-01-02 15:04")),
	}
	msg := &discordgo.MessageSend{Content: discordMessage(artifact)}

	if artifact.Size > d.maxBytes {
		msg.Content += fmt.Sprintf("\n\n⚠️ **Note:** File too large for Discord upload. Backup saved locally at: `%s`", artifact.Path)
	} else {
		file, err := os.Open(artifact.Path)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()
		msg.Files = []*discordgo.File{{
			Name:        artifact.Name,
			ContentType: contentType(artifact.Name),
			Reader:      file,
		}}
	}

	if _, err := d.api.ForumThreadStartComplex(channelID, thread, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to create discord forum post: %w", err)
	}
	return nil
}

func (d *DiscordStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	return d.UploadArtifact(ctx, domain.Artifact{
		Target:    remoteName,
		Name:      remoteName,
		Path:      localPath,
		Size:      info.Size(),
		CreatedAt: info.ModTime(),
	})
}

func (d *DiscordStorage) List(ctx context.Context) ([]string, error) {
	// Forum posts are not listed
	return []string{}, nil
}

func (d *DiscordStorage) Delete(ctx context.Context, remoteName string) error {
	return nil
}

func (d *DiscordStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	return []string{}, nil
}

func discordMessage(a domain.Artifact) string {
	hash := a.SHA256
	if hash == "" {
		hash = "N/A"
	}
	return fmt.Sprintf(
		"**Database Backup Completed**\n\n"+
			"🔌 **Connection:** `%s`\n"+
			"📁 **Databases (%d):** `%s`\n"+
			"🕐 **Timestamp:** %s\n"+
			"📊 **File Size:** %.2f MB\n"+
			"⏱️ **Duration:** %d seconds\n"+
			"🔐 **SHA256:** `%s`\n"+
			"✅ **Status:** Success",
		a.Target,
		len(a.Databases),
		strings.Join(a.Databases, ", "),
		a.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		float64(a.Size)/(1024*1024),
		int64(a.Duration.Seconds()),
		hash,
	)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".zip"):
		return "application/zip"
	case strings.HasSuffix(name, ".tar.gz"), filepath.Ext(name) == ".tgz":
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}

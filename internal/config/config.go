package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/semmidev/vigil/internal/domain"
)

const EnvPrefix = "VIGIL"

type Config struct {
	App       AppConfig        `mapstructure:"app"`
	Databases []DatabaseConfig `mapstructure:"databases"`
	Jobs      []JobConfig      `mapstructure:"jobs"`
	Backup    BackupConfig     `mapstructure:"backup"`
	Engine    EngineConfig     `mapstructure:"engine"`
	Web       WebConfig        `mapstructure:"web"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

// DatabaseConfig is a connection profile. The legacy single-database form
// (database + schedule + enabled) is turned into a job of the same name.
type DatabaseConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	Database string `mapstructure:"database"`
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`

	// PostgreSQL specific
	SSLMode string `mapstructure:"ssl_mode"`

	// MongoDB specific
	AuthDatabase string `mapstructure:"auth_database"`
}

type ScheduleConfig struct {
	Unit  string `mapstructure:"unit"`
	Every int    `mapstructure:"every"`
	Cron  string `mapstructure:"cron"`
}

type JobConfig struct {
	Name      string         `mapstructure:"name"`
	Database  string         `mapstructure:"database"`
	Databases []string       `mapstructure:"databases"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
	Timeout   time.Duration  `mapstructure:"timeout"`
	Disabled  bool           `mapstructure:"disabled"`
}

type BackupConfig struct {
	LocalPath       string         `mapstructure:"local_path"`
	RetentionDays   int            `mapstructure:"retention_days"`
	Archive         string         `mapstructure:"archive"`
	CleanupSchedule string         `mapstructure:"cleanup_schedule"`
	StateFile       string         `mapstructure:"state_file"`
	UploadTargets   []UploadTarget `mapstructure:"upload_targets"`
}

type EngineConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	HistorySize      int           `mapstructure:"history_size"`
	ReplaySize       int           `mapstructure:"replay_size"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	UploadAttempts   int           `mapstructure:"upload_attempts"`
	UploadBackoff    time.Duration `mapstructure:"upload_backoff"`
	UploadMaxBackoff time.Duration `mapstructure:"upload_max_backoff"`
	UploadQueueSize  int           `mapstructure:"upload_queue_size"`
	// UploadRate is uploads per second. Zero disables pacing.
	UploadRate float64 `mapstructure:"upload_rate"`
}

type WebConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Addr              string `mapstructure:"addr"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	OAuthClientSecret string `mapstructure:"oauth_client_secret"`
}

type UploadTarget struct {
	Type    string `mapstructure:"type"`
	Name    string `mapstructure:"name"`
	Enabled bool   `mapstructure:"enabled"`

	// Local copy
	Path string `mapstructure:"path"`

	// Google Drive
	CredentialsFile  string `mapstructure:"credentials_file"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`
	FolderID         string `mapstructure:"folder_id"`

	// AWS S3
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`

	// Telegram and Discord
	BotToken string `mapstructure:"bot_token"`

	// Telegram
	ChatID     string `mapstructure:"chat_id"`
	SendFile   bool   `mapstructure:"send_file"`
	NotifyOnly bool   `mapstructure:"notify_only"`

	// Discord
	GuildID      string `mapstructure:"guild_id"`
	ForumChannel string `mapstructure:"forum_channel"`
	MaxFileMB    int    `mapstructure:"max_file_mb"`
}

// DisplayName is the name used in logs, events and metrics.
func (t UploadTarget) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Type
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vigil")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("backup.local_path", "./backups")
	v.SetDefault("backup.retention_days", 7)
	v.SetDefault("backup.archive", "zip")
	v.SetDefault("backup.cleanup_schedule", "0 3 * * *")
	v.SetDefault("backup.state_file", "")

	v.SetDefault("engine.tick_interval", 5*time.Second)
	v.SetDefault("engine.history_size", 50)
	v.SetDefault("engine.replay_size", 100)
	v.SetDefault("engine.subscriber_buffer", 256)
	v.SetDefault("engine.upload_attempts", 3)
	v.SetDefault("engine.upload_backoff", 2*time.Second)
	v.SetDefault("engine.upload_max_backoff", 30*time.Second)
	v.SetDefault("engine.upload_queue_size", 64)
	v.SetDefault("engine.upload_rate", 1.0)

	v.SetDefault("web.enabled", false)
	v.SetDefault("web.addr", ":8080")
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database configuration is required")
	}

	names := make(map[string]bool, len(c.Databases))
	for i, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("database[%d]: name is required", i)
		}
		if names[db.Name] {
			return fmt.Errorf("database[%d]: duplicate name %q", i, db.Name)
		}
		names[db.Name] = true
		switch domain.Engine(db.Type) {
		case domain.EngineMySQL, domain.EnginePostgreSQL, domain.EngineMongoDB:
		case "":
			return fmt.Errorf("database[%d]: type is required", i)
		default:
			return fmt.Errorf("database[%d]: unsupported type %q", i, db.Type)
		}
		if db.Host == "" {
			return fmt.Errorf("database[%d]: host is required", i)
		}
		if db.Enabled && db.Schedule == "" {
			return fmt.Errorf("database[%d]: schedule is required when enabled", i)
		}
	}

	jobs := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job[%d]: name is required", i)
		}
		if jobs[job.Name] {
			return fmt.Errorf("job[%d]: duplicate name %q", i, job.Name)
		}
		jobs[job.Name] = true
		if !names[job.Database] {
			return fmt.Errorf("job[%d]: unknown database %q", i, job.Database)
		}
		if len(job.Databases) == 0 {
			return fmt.Errorf("job[%d]: at least one database name is required", i)
		}
		if _, err := job.Schedule.parse(); err != nil {
			return fmt.Errorf("job[%d]: %w", i, err)
		}
		if job.Timeout < 0 {
			return fmt.Errorf("job[%d]: timeout must not be negative", i)
		}
	}

	if c.Backup.LocalPath == "" {
		return fmt.Errorf("backup.local_path is required")
	}
	switch c.Backup.Archive {
	case "zip", "tar.gz", "tgz":
	default:
		return fmt.Errorf("backup.archive: unsupported format %q", c.Backup.Archive)
	}

	for i, t := range c.Backup.UploadTargets {
		if err := t.validate(); err != nil {
			return fmt.Errorf("upload_targets[%d]: %w", i, err)
		}
	}

	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be positive")
	}
	if c.Engine.UploadAttempts < 1 {
		return fmt.Errorf("engine.upload_attempts must be at least 1")
	}
	if c.Engine.UploadRate < 0 {
		return fmt.Errorf("engine.upload_rate must not be negative")
	}

	if c.Web.Enabled && c.Web.Addr == "" {
		return fmt.Errorf("web.addr is required when web is enabled")
	}
	if (c.Web.Username == "") != (c.Web.Password == "") {
		return fmt.Errorf("web.username and web.password must be set together")
	}

	return nil
}

func (t UploadTarget) validate() error {
	if !t.Enabled {
		return nil
	}
	switch t.Type {
	case "local":
		if t.Path == "" {
			return fmt.Errorf("local: path is required")
		}
	case "s3":
		if t.Bucket == "" {
			return fmt.Errorf("s3: bucket is required")
		}
	case "gdrive":
		if t.FolderID == "" {
			return fmt.Errorf("gdrive: folder_id is required")
		}
		if t.CredentialsFile == "" && (t.ClientSecretFile == "" || t.RefreshToken == "") {
			return fmt.Errorf("gdrive: credentials_file or client_secret_file with refresh_token is required")
		}
	case "telegram":
		if t.BotToken == "" || t.ChatID == "" {
			return fmt.Errorf("telegram: bot_token and chat_id are required")
		}
	case "discord":
		if t.BotToken == "" || t.GuildID == "" {
			return fmt.Errorf("discord: bot_token and guild_id are required")
		}
	default:
		return fmt.Errorf("unsupported type %q", t.Type)
	}
	return nil
}

func (s ScheduleConfig) parse() (domain.Schedule, error) {
	if s.Cron != "" {
		return domain.ParseSchedule(string(domain.UnitCron), 0, s.Cron)
	}
	return domain.ParseSchedule(s.Unit, s.Every, "")
}

func (c *Config) GetEnabledUploadTargets() []UploadTarget {
	var enabled []UploadTarget
	for _, target := range c.Backup.UploadTargets {
		if target.Enabled {
			enabled = append(enabled, target)
		}
	}
	return enabled
}

// Targets returns the database profiles keyed by name.
func (c *Config) Targets() map[string]domain.DatabaseTarget {
	targets := make(map[string]domain.DatabaseTarget, len(c.Databases))
	for _, db := range c.Databases {
		targets[db.Name] = domain.DatabaseTarget{
			Name:         db.Name,
			Engine:       domain.Engine(db.Type),
			Host:         db.Host,
			Port:         db.Port,
			Username:     db.Username,
			Password:     db.Password,
			SSLMode:      db.SSLMode,
			AuthDatabase: db.AuthDatabase,
		}
	}
	return targets
}

// JobSpecs builds the jobs to schedule: every enabled job entry, then one
// job per enabled legacy database entry that no job already covers.
func (c *Config) JobSpecs() ([]domain.JobSpec, error) {
	targets := c.Targets()
	var specs []domain.JobSpec
	seen := make(map[string]bool)

	for _, job := range c.Jobs {
		if job.Disabled {
			continue
		}
		sched, err := job.Schedule.parse()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		specs = append(specs, domain.JobSpec{
			Name:      job.Name,
			Target:    targets[job.Database],
			Databases: append([]string(nil), job.Databases...),
			Schedule:  sched,
			Timeout:   job.Timeout,
		})
		seen[job.Name] = true
	}

	for _, db := range c.Databases {
		if !db.Enabled || db.Database == "" || seen[db.Name] {
			continue
		}
		sched, err := domain.ParseSchedule(string(domain.UnitCron), 0, db.Schedule)
		if err != nil {
			return nil, fmt.Errorf("database %s: %w", db.Name, err)
		}
		specs = append(specs, domain.JobSpec{
			Name:      db.Name,
			Target:    targets[db.Name],
			Databases: []string{db.Database},
			Schedule:  sched,
		})
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no enabled jobs")
	}
	return specs, nil
}

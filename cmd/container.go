// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, archive FS) and
// wires the ingestion components. This is the only place that knows about
// ALL modules.
package main

import (
	"context"
	"fmt"
	"os"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/inboxcore/internal/classifier"
	"github.com/Abraxas-365/inboxcore/internal/domain"
	"github.com/Abraxas-365/inboxcore/internal/ingest"
	"github.com/Abraxas-365/inboxcore/internal/ingest/backfill"
	"github.com/Abraxas-365/inboxcore/internal/ingest/notify"
	"github.com/Abraxas-365/inboxcore/internal/ingest/oauth"
	"github.com/Abraxas-365/inboxcore/internal/ingest/sweeper"
	"github.com/Abraxas-365/inboxcore/internal/ingest/webhook"
	"github.com/Abraxas-365/inboxcore/internal/ingest/worker"
	"github.com/Abraxas-365/inboxcore/internal/providers/googleclient"
	"github.com/Abraxas-365/inboxcore/internal/providers/msclient"
	"github.com/Abraxas-365/inboxcore/internal/rules"
	"github.com/Abraxas-365/inboxcore/internal/store"
	"github.com/Abraxas-365/inboxcore/internal/vaultx"
	"github.com/Abraxas-365/inboxcore/pkg/ai/providers/aianthropic"
	"github.com/Abraxas-365/inboxcore/pkg/ai/providers/aiazure"
	"github.com/Abraxas-365/inboxcore/pkg/ai/providers/aibedrock"
	"github.com/Abraxas-365/inboxcore/pkg/ai/providers/aigemini"
	"github.com/Abraxas-365/inboxcore/pkg/ai/providers/aiopenai"
	"github.com/Abraxas-365/inboxcore/pkg/config"
	"github.com/Abraxas-365/inboxcore/pkg/fsx"
	"github.com/Abraxas-365/inboxcore/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/inboxcore/pkg/jobx"
	"github.com/Abraxas-365/inboxcore/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/inboxcore/pkg/logx"
	"github.com/Abraxas-365/inboxcore/pkg/notifx"
	"github.com/Abraxas-365/inboxcore/pkg/notifx/notifxconsole"
	"github.com/Abraxas-365/inboxcore/pkg/notifx/notifxses"
)

// vaultRefreshTokenKey names the per-purpose key protecting refresh tokens.
const vaultRefreshTokenKey = "refresh_token"

// Container holds shared infrastructure and the wired ingestion modules.
type Container struct {
	Config *config.Config

	// Infrastructure (shared across all modules)
	DB      *sqlx.DB
	Redis   *redis.Client
	Vault   *vaultx.Vault
	Archive fsx.FileSystem

	// Ingestion core
	Store      *store.Store
	Registry   ingest.Registry
	Rules      *rules.Engine
	Classifier *classifier.Classifier
	Notifier   *notify.AlertSink
	Jobs       *jobx.Client
	Worker     *worker.Worker
	Backfill   *backfill.Manager
	Sweeper    *sweeper.Sweeper
	Webhooks   *webhook.Handlers
	OAuth      *oauth.Handlers
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initModules()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure — DB, Redis, vault, archive storage
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Database
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Config.Database.Host,
		c.Config.Database.Port,
		c.Config.Database.User,
		c.Config.Database.Password,
		c.Config.Database.Name,
		c.Config.Database.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("  ✅ Database connected")

	// 2. Redis (backs the job queue)
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
		logx.Fatalf("Failed to connect to Redis: %v (Redis is required)", err)
	}
	logx.Info("  ✅ Redis connected")

	// 3. Secret vault. A missing key is fatal here, at startup — it must
	// never surface for the first time inside a request.
	c.initVault()

	// 4. Optional raw-message archive
	c.initArchive()

	logx.Info("✅ Infrastructure initialized")
}

func (c *Container) initVault() {
	var (
		v   *vaultx.Vault
		err error
	)
	if c.Config.Vault.MasterKey != "" {
		v, err = vaultx.NewFromMaster(c.Config.Vault.MasterKey, vaultRefreshTokenKey)
	} else {
		v, err = vaultx.New(map[string]string{
			vaultRefreshTokenKey: c.Config.Vault.RefreshTokenKey,
		})
	}
	if err != nil {
		logx.Fatalf("Failed to initialize secret vault: %v", err)
	}
	c.Vault = v
	logx.Info("  ✅ Secret vault loaded")
}

func (c *Container) initArchive() {
	if c.Config.Ingest.ArchiveDir == "" {
		logx.Info("  ⏭️ Message archive disabled")
		return
	}
	localFS, err := fsxlocal.NewLocalFileSystem(c.Config.Ingest.ArchiveDir)
	if err != nil {
		logx.Fatalf("Failed to initialize archive file system: %v", err)
	}
	c.Archive = localFS
	logx.Infof("  ✅ Message archive configured (path: %s)", localFS.GetBasePath())
}

// ---------------------------------------------------------------------------
// Module composition
// ---------------------------------------------------------------------------

func (c *Container) initModules() {
	logx.Info("📦 Initializing modules...")

	c.Store = store.New(c.DB, c.Vault)
	if err := c.Store.InitSchema(); err != nil {
		logx.Fatalf("Failed to initialize schema: %v", err)
	}

	googleclient.SetPubSubTopic(c.Config.Google.PubSubTopic)
	google := googleclient.New(googleclient.Config{
		ClientID:     c.Config.Google.ClientID,
		ClientSecret: c.Config.Google.ClientSecret,
		RedirectURL:  c.Config.Google.RedirectURL,
		Scopes:       c.Config.Google.Scopes,
	})
	microsoft := msclient.New(msclient.Config{
		ClientID:     c.Config.Microsoft.ClientID,
		ClientSecret: c.Config.Microsoft.ClientSecret,
		RedirectURL:  c.Config.Microsoft.RedirectURL,
		Authority:    c.Config.Microsoft.Authority,
		Scopes:       c.Config.Microsoft.Scopes,
		WebhookURL:   getEnv("MICROSOFT_WEBHOOK_URL", ""),
		ClientState:  c.Config.Microsoft.ClientState,
	})
	c.Registry = ingest.Registry{
		domain.ProviderGoogle:    google,
		domain.ProviderMicrosoft: microsoft,
	}

	c.Rules = rules.New(c.Store)
	c.Classifier = classifier.New(c.newLLMProvider(), classifier.Options{
		Model:       c.Config.Classifier.Model,
		ReadTimeout: c.Config.Classifier.ReadTimeout,
	})
	c.Notifier = notify.NewAlertSink(c.newNotifxClient(), c.Config.Notifx.FromAddress, c.Config.Ingest.AdminAlertEmails)

	queue := jobxredis.NewRedisQueue(c.Redis)
	c.Jobs = jobx.NewClient(queue,
		jobx.WithQueues(ingest.QueueName),
		jobx.WithConcurrency(c.Config.Jobx.Concurrency),
		jobx.WithPollInterval(c.Config.Jobx.PollInterval),
		jobx.WithShutdownTimeout(c.Config.Jobx.ShutdownTimeout),
		jobx.WithDequeueTimeout(c.Config.Jobx.DequeueTimeout),
		jobx.WithDefaultRetryDelay(c.Config.Jobx.DefaultRetryDelay),
	)

	c.Worker = worker.New(worker.Config{
		Store:           c.Store,
		Registry:        c.Registry,
		Rules:           c.Rules,
		Classifier:      c.Classifier,
		Notifier:        c.Notifier,
		Queue:           c.Jobs,
		Archive:         c.Archive,
		ProviderTimeout: c.Config.Ingest.ProviderTimeout,
		MaxRetries:      c.Config.Ingest.MaxRetries,
	})
	c.Worker.Register(c.Jobs)

	c.Backfill = backfill.NewManager(backfill.Config{
		Worker:   c.Worker,
		Registry: c.Registry,
		PoolSize: c.Config.Ingest.BackfillPoolSize,
		Count:    c.Config.Ingest.BackfillCount,
	})

	c.Sweeper = sweeper.New(sweeper.Config{
		Store:    c.Store,
		Registry: c.Registry,
		Worker:   c.Worker,
		Notifier: c.Notifier,
		Interval: c.Config.Ingest.SweepInterval,
	})

	c.Webhooks = webhook.New(webhook.Config{
		Store:        c.Store,
		Worker:       c.Worker,
		Registry:     c.Registry,
		ClientState:  c.Config.Microsoft.ClientState,
		CatchUpCount: c.Config.Ingest.BackfillCount,
	})

	c.OAuth = oauth.New(oauth.Config{
		Store:      c.Store,
		Registry:   c.Registry,
		Backfill:   c.Backfill,
		Worker:     c.Worker,
		Google:     c.Config.Google,
		Microsoft:  c.Config.Microsoft,
		StateNonce: c.Config.Ingest.StateNonce,
	})

	logx.Info("✅ Modules initialized")
}

// newLLMProvider selects the classifier backend. Every chat-capable
// provider in pkg/ai/providers plugs in here; the classifier itself never
// learns which vendor answered.
func (c *Container) newLLMProvider() classifier.Provider {
	cfg := c.Config.Classifier
	switch cfg.Provider {
	case "anthropic":
		return aianthropic.NewAnthropicProvider(cfg.APIKey)
	case "gemini":
		p, err := aigemini.NewGeminiProvider(context.Background(), cfg.APIKey)
		if err != nil {
			logx.Fatalf("Failed to initialize Gemini provider: %v", err)
		}
		return p
	case "bedrock":
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background())
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config: %v", err)
		}
		return aibedrock.NewBedrockProvider(awsCfg)
	case "azure":
		return aiazure.NewAzureOpenAIProvider(cfg.AzureEndpoint, cfg.APIKey)
	case "openai":
		return aiopenai.NewOpenAIProvider(cfg.APIKey)
	default:
		logx.Warnf("Unknown CLASSIFIER_PROVIDER %q, falling back to openai", cfg.Provider)
		return aiopenai.NewOpenAIProvider(cfg.APIKey)
	}
}

// newNotifxClient picks the admin-alert transport: SES in production,
// console for local development.
func (c *Container) newNotifxClient() *notifx.Client {
	switch c.Config.Notifx.Provider {
	case "ses":
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(),
			awsConfig.WithRegion(c.Config.Notifx.AWSRegion))
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config: %v", err)
		}
		provider := notifxses.NewSESProvider(ses.NewFromConfig(awsCfg), c.Config.Notifx.FromAddress)
		logx.Infof("  ✅ SES notifier configured (region: %s)", c.Config.Notifx.AWSRegion)
		return notifx.NewClient(provider)
	default:
		logx.Info("  ✅ Console notifier configured (development)")
		return notifx.NewClient(notifxconsole.NewConsoleProvider())
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// StartBackgroundServices launches the job workers and the subscription
// sweeper. Both exit when ctx is cancelled.
func (c *Container) StartBackgroundServices(ctx context.Context) {
	logx.Info("🔄 Starting background services...")

	go func() {
		if err := c.Jobs.Start(ctx); err != nil {
			logx.Errorf("Job workers stopped: %v", err)
		}
	}()
	go c.Sweeper.Run(ctx)
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Command faceit-rehost-bot watches a FACEIT hub and runs rehost/cancel votes
// in each match's chat room. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs versioned migrations.
//   - Polls the hub, greets voting rooms and checks team ratings.
//   - Reads chat commands from match rooms and, optionally, Discord.
//   - Mirrors match events to Discord, Twitch and the event journal.
//   - Refreshes the stored FACEIT user token in the background.
//   - Exposes the HTTP API with /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/faceit-rehost-bot/chat"
	"github.com/onnwee/faceit-rehost-bot/config"
	"github.com/onnwee/faceit-rehost-bot/crypto"
	"github.com/onnwee/faceit-rehost-bot/db"
	"github.com/onnwee/faceit-rehost-bot/discord"
	"github.com/onnwee/faceit-rehost-bot/faceitapi"
	"github.com/onnwee/faceit-rehost-bot/match"
	"github.com/onnwee/faceit-rehost-bot/oauth"
	"github.com/onnwee/faceit-rehost-bot/server"
	"github.com/onnwee/faceit-rehost-bot/telemetry"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("faceit-rehost-bot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	keys, err := crypto.KeyringFromEnv()
	if err != nil {
		slog.Error("invalid encryption keys", slog.Any("err", err))
		os.Exit(1)
	}
	if keys == nil {
		slog.Warn("ENCRYPTION_KEY not set; OAuth tokens are stored in plaintext")
	}

	rdb := connectRedis(ctx, cfg.RedisAddr)
	if rdb != nil {
		defer rdb.Close()
	}

	// Chat API bearer: the stored OAuth token when the flow is configured,
	// otherwise the static FACEIT_CHAT_TOKEN.
	var oauthCfg *oauth2.Config
	tokens := &db.TokenStore{DB: database, Keys: keys, Provider: db.ProviderFaceit}
	var chatAuth faceitapi.BearerSource = faceitapi.StaticToken(cfg.FaceitChatToken)
	var userTokens *faceitapi.UserTokenSource
	if cfg.OAuthEnabled() {
		oauthCfg = faceitapi.NewOAuthConfig(faceitapi.OAuthSettings{
			ClientID:     cfg.FaceitClientID,
			ClientSecret: cfg.FaceitClientSecret,
			RedirectURI:  cfg.FaceitRedirectURI,
			Scopes:       cfg.FaceitScopes,
			AuthURL:      cfg.FaceitAuthURL,
			TokenURL:     cfg.FaceitTokenURL,
		})
		if cfg.FaceitChatToken == "" {
			userTokens = &faceitapi.UserTokenSource{OAuth: oauthCfg, Store: tokens}
			chatAuth = userTokens
		}
	}

	client := &faceitapi.Client{
		APIKey:      cfg.FaceitAPIKey,
		ChatAuth:    chatAuth,
		BaseURL:     cfg.FaceitAPIBase,
		ChatBaseURL: cfg.FaceitChatBase,
		Timeout:     cfg.GatewayTimeout,
		MaxRetries:  uint(cfg.GatewayMaxRetries),
	}

	reg := match.NewRegistry()
	bus := match.NewBus()
	votes := match.NewCoordinator(reg, client, bus, match.Thresholds{
		Rehost:  cfg.RehostVoteThreshold,
		Cancel:  cfg.CancelVoteThreshold,
		EloDiff: cfg.EloDiffThreshold,
	}, match.Messages{Greeting: cfg.GreetingMessage})
	poller := match.NewPoller(cfg.HubID, cfg.PollInterval, reg, client, votes, bus)

	g, gctx := errgroup.WithContext(ctx)

	journal := &db.Journal{DB: database}
	startJournal(gctx, g, bus, journal)

	if err := cfg.ValidatePollReady(); err != nil {
		slog.Warn("hub poller disabled", slog.Any("err", err))
	} else {
		g.Go(func() error { poller.Start(gctx); return nil })

		watcher := chat.NewWatcher(client, reg, votes, cfg.CommandPrefix, cfg.ChatWatchInterval)
		watcher.BotUserID = cfg.BotUserID
		watcher.Cursors = &chat.KVCursorStore{DB: database}
		g.Go(func() error { watcher.Start(gctx); return nil })
	}

	if cfg.DiscordToken != "" {
		links := &db.LinkStore{DB: database}
		dg, bot, err := discord.Open(cfg.DiscordToken, func(s *discordgo.Session) *discord.Bot {
			return discord.New(s, links, votes, reg, cfg.DiscordPrefix, cfg.DiscordChannelID)
		})
		if err != nil {
			slog.Error("discord bot disabled", slog.String("component", "discord"), slog.Any("err", err))
		} else {
			defer dg.Close()
			unsubscribe := bus.Subscribe(bot.HandleEvent)
			defer unsubscribe()
			g.Go(func() error { bot.Run(gctx); return nil })
		}
	}

	if tw := chat.NewTwitchAnnouncer(cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken); tw != nil {
		unsubscribe := bus.Subscribe(tw.HandleEvent)
		defer unsubscribe()
		g.Go(func() error { tw.Run(gctx); return nil })
	}

	if oauthCfg != nil {
		ref := &oauth.Refresher{
			Store:    tokens,
			Provider: db.ProviderFaceit,
			Refresh: func(rctx context.Context, refreshToken string) (*oauth2.Token, error) {
				return faceitapi.RefreshToken(rctx, oauthCfg, refreshToken)
			},
		}
		if userTokens != nil {
			ref.OnRefresh = func(*oauth2.Token) { userTokens.Invalidate() }
		}
		g.Go(func() error { ref.Start(gctx); return nil })
	}

	startPprof()

	var states oauth.StateStore
	if rdb != nil {
		states = &oauth.RedisStateStore{Client: rdb}
	}
	deps := server.Deps{
		DB:             database,
		Tracker:        reg,
		Votes:          votes,
		Poller:         poller,
		Bus:            bus,
		Journal:        journal,
		OAuth:          oauthCfg,
		States:         states,
		Tokens:         tokens,
		PollStaleAfter: cfg.PollStaleAfter,
		CommandPrefix:  cfg.CommandPrefix,
		WebhookSecret:  cfg.WebhookSecret,
	}
	if cfg.ValidatePollReady() != nil {
		deps.PollStaleAfter = 0
	}
	if userTokens != nil {
		deps.OnToken = func(*oauth2.Token) { userTokens.Invalidate() }
	}
	g.Go(func() error {
		return server.Start(gctx, cfg.HTTPAddr, server.NewRouter(gctx, deps, rdb))
	})

	if err := g.Wait(); err != nil {
		slog.Error("service exited with error", slog.Any("err", err))
		stop()
		os.Exit(1)
	}
	slog.Info("shut down")
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// connectRedis returns nil when addr is empty or the server does not answer;
// callers then fall back to in-process state.
func connectRedis(ctx context.Context, addr string) *redis.Client {
	if addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		slog.Warn("redis unavailable; using in-memory state", slog.String("addr", addr), slog.Any("err", err))
		_ = rdb.Close()
		return nil
	}
	slog.Info("redis connected", slog.String("addr", addr))
	return rdb
}

// startPprof serves /debug/pprof when ENABLE_PPROF=1.
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}

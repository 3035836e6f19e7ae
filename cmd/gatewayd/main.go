// Command gatewayd runs the real-time event gateway: a websocket endpoint
// where clients subscribe to narrowly-scoped asynchronous events (e.g. a
// specific background job finishing) and producers post completed results
// to exactly the matching subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ubco-db/helpme-sub005/cache"
	"github.com/ubco-db/helpme-sub005/gateway"
	"github.com/ubco-db/helpme-sub005/idalloc"
)

// ---------------------------------------------------------------------------
// CLI flags
// ---------------------------------------------------------------------------

type channelFlags []string

func (c *channelFlags) String() string { return fmt.Sprintf("%v", *c) }
func (c *channelFlags) Set(s string) error {
	*c = append(*c, s)
	return nil
}

var (
	flagAddr     = flag.String("addr", ":8080", "listen address")
	flagPath     = flag.String("path", "/ws", "websocket endpoint path")
	flagSweepIvl = flag.Duration("sweep-interval", gateway.DefaultSweepInterval, "subscriber reconciliation interval (0 disables sweep)")
	flagRedisURL = flag.String("redis-url", "", "redis URL for the shared cache (empty uses in-memory cache)")
	flagIDTTL    = flag.Duration("id-ttl", idalloc.DefaultTTL, "unique correlation ID reservation lifetime")
	flagDevLog   = flag.Bool("dev-log", false, "use human-readable development logging")

	// Secrets come from the environment, not flags, so they never show
	// up in process listings: HMS_JWT_SECRET, HMS_API_KEY.

	flagChannels channelFlags
)

func main() {
	flag.Var(&flagChannels, "channel", "event channel as name or name:outboundEvent (repeatable)")
	flag.Parse()

	logger := buildLogger(*flagDevLog)
	defer func() { _ = logger.Sync() }()

	jwtSecret := os.Getenv("HMS_JWT_SECRET")
	apiKey := os.Getenv("HMS_API_KEY")
	if jwtSecret == "" && apiKey == "" {
		logger.Fatal("at least one of HMS_JWT_SECRET or HMS_API_KEY must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup, err := buildCache(ctx, *flagRedisURL)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer cleanup()

	allocator := idalloc.New(store, idalloc.WithTTL(*flagIDTTL))

	var guards []gateway.Guard
	if jwtSecret != "" {
		guards = append(guards, gateway.NewJWTGuard([]byte(jwtSecret)))
	}
	producerGuard := gateway.NewAPIKeyGuard(apiKey)
	if apiKey != "" {
		guards = append(guards, producerGuard)
	}

	gw, err := gateway.New(gateway.Config{
		Channels:      parseChannels(flagChannels),
		Guard:         gateway.NewCompositeGuard(guards...),
		ProducerGuard: producerGuard,
		SweepInterval: *flagSweepIvl,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("gateway init failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle(*flagPath, gw)
	mux.HandleFunc("/allocate-id", func(w http.ResponseWriter, r *http.Request) {
		// Producer-side helper: mints a correlation ID for tagging a job
		// whose result will later be posted to a channel.
		if _, err := producerGuard.Authorize(r); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		id, err := allocator.Allocate(r.Context())
		if err != nil {
			logger.Error("id allocation failed", zap.Error(err))
			http.Error(w, "allocation failed", http.StatusInternalServerError)
			return
		}
		fmt.Fprintln(w, id)
	})

	server := &http.Server{
		Addr:              *flagAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		gw.Close()
	}()

	logger.Info("gatewayd listening",
		zap.String("addr", *flagAddr),
		zap.String("path", *flagPath),
		zap.Strings("channels", flagChannels))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func buildLogger(dev bool) *zap.Logger {
	if dev {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}

func buildCache(ctx context.Context, redisURL string) (cache.Cache, func(), error) {
	if redisURL == "" {
		mem := cache.NewMemory()
		mem.StartJanitor(time.Minute)
		return mem, mem.Close, nil
	}
	redisCache, err := cache.NewRedis(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}
	return redisCache, func() { _ = redisCache.Close() }, nil
}

// parseChannels turns -channel flags (name or name:outbound) into channel
// configs, defaulting to the job-results channel when none are given.
func parseChannels(flags channelFlags) []gateway.ChannelConfig {
	if len(flags) == 0 {
		flags = channelFlags{"jobResults"}
	}
	configs := make([]gateway.ChannelConfig, 0, len(flags))
	for _, entry := range flags {
		name, outbound, _ := strings.Cut(entry, ":")
		configs = append(configs, gateway.ChannelConfig{Name: name, Outbound: outbound})
	}
	return configs
}

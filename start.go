package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heyglassy/flyspace/internal/adapter/browser"
	"github.com/heyglassy/flyspace/internal/adapter/driver"
	"github.com/heyglassy/flyspace/internal/bus"
	"github.com/heyglassy/flyspace/internal/config"
	"github.com/heyglassy/flyspace/internal/discovery"
	"github.com/heyglassy/flyspace/internal/frames"
	"github.com/heyglassy/flyspace/internal/interceptor"
	"github.com/heyglassy/flyspace/internal/metrics"
	"github.com/heyglassy/flyspace/internal/policy"
	"github.com/heyglassy/flyspace/internal/registry"
	"github.com/heyglassy/flyspace/internal/repository"
	"github.com/heyglassy/flyspace/internal/sandbox"
	"github.com/heyglassy/flyspace/internal/service"
	transporthttp "github.com/heyglassy/flyspace/internal/transport/http"
	"github.com/heyglassy/flyspace/internal/transport/rpc"
	"github.com/heyglassy/flyspace/internal/transport/ws"
)

var startCmd = &cobra.Command{
	Use:   "start [folder]",
	Short: "Start the engine for a scripts folder",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStart,
}

func init() {
	f := startCmd.Flags()
	f.Int("port", 0, "HTTP port (overrides HTTP_PORT)")
	f.Int("rpc-port", 0, "JSON-RPC port (overrides RPC_PORT)")
	f.String("model", "", "model name (overrides MODEL_NAME)")
	f.String("cdp-url", "", "attach to a running browser (overrides BROWSER_CDP_URL)")
	f.Bool("headless", false, "run Chrome headless (overrides BROWSER_HEADLESS)")
	f.String("db", "", "journal database (overrides DATABASE_URL)")
	f.String("policy", "", "navigation policy file (overrides NAVIGATION_POLICY_FILE)")
}

// applyFlags overrides cfg with the flags the user set.
func applyFlags(cmd *cobra.Command, args []string, cfg *config.Config) {
	f := cmd.Flags()
	if len(args) > 0 {
		cfg.ScriptsDir = args[0]
	}
	if f.Changed("port") {
		cfg.HTTPPort, _ = f.GetInt("port")
	}
	if f.Changed("rpc-port") {
		cfg.RPCPort, _ = f.GetInt("rpc-port")
	}
	if f.Changed("model") {
		cfg.ModelName, _ = f.GetString("model")
	}
	if f.Changed("cdp-url") {
		cfg.BrowserCDPURL, _ = f.GetString("cdp-url")
	}
	if f.Changed("headless") {
		cfg.BrowserHeadless, _ = f.GetBool("headless")
	}
	if f.Changed("db") {
		cfg.DatabaseURL, _ = f.GetString("db")
	}
	if f.Changed("policy") {
		cfg.NavigationPolicyFile, _ = f.GetString("policy")
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg := config.Load()
	applyFlags(cmd, args, cfg)

	warnings, err := cfg.ValidateModel()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		log.Printf("WARN: %s", w)
	}

	log.Printf("Starting flyspace...")
	log.Printf("Scripts: %s", cfg.ScriptsDir)
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("RPC Port: %d", cfg.RPCPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Model: %s (bridge %s)", cfg.ModelName, cfg.AIBridgeAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize journal
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	// Wire the bus consumers before the registry publishes anything
	b := bus.New(bus.DefaultBufferSize)
	defer repository.NewJournal(store).Attach(b)()
	m := metrics.New(b)
	defer m.Attach(b)()
	reg := registry.New(b)

	// Initialize policy engine
	engine, err := policy.LoadEngine(ctx, cfg.NavigationPolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Initialize browser and driver
	br, err := browser.New(browser.Config{
		CDPURL:     cfg.BrowserCDPURL,
		Headless:   cfg.BrowserHeadless,
		ChromePath: cfg.ChromePath,
	})
	if err != nil {
		return err
	}
	defer br.Close()
	drv := driver.New(br, driver.NewCapabilities(strings.ToUpper(cfg.Mode), cfg.AIBridgeAddr, cfg.ModelName))

	// Initialize sandbox and service
	index := discovery.NewIndex(cfg.ScriptsDir)
	sb := sandbox.New(reg, b, drv, sandbox.PluginLoader{},
		sandbox.WithBuilder(sandbox.GoPluginBuilder{GoBin: cfg.GoBin, DistDir: cfg.DistDir}),
		sandbox.WithPageOptions(
			interceptor.WithNavigationPolicy(engine),
			interceptor.WithCapabilityTimeout(cfg.CapabilityTimeout),
		),
	)
	svc := service.New(reg, b, sb, index, store)

	// Transports
	httpServer := transporthttp.NewServer(svc, m.Handler())
	httpServer.Debug = cfg.Debug()

	hub := ws.NewHub()
	wsServer := ws.NewServer(ws.Config{
		WriteTimeout:   cfg.WSWriteTimeout,
		ReadTimeout:    cfg.WSPongTimeout,
		PingInterval:   cfg.WSPingInterval,
		MaxMessageSize: 64 * 1024,
	}, hub, svc)
	httpServer.GET("/ws", wsServer.HandleWebSocket)

	rpcServer, err := rpc.NewServer(svc)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		wsServer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return index.Watch(gctx)
	})
	g.Go(func() error {
		sc, err := br.StartScreencast(gctx, browser.ScreencastConfig{
			Format:  cfg.ScreencastFormat,
			Quality: cfg.ScreencastQuality,
		})
		if err != nil {
			log.Printf("WARN: Screencast unavailable: %v", err)
			return nil
		}
		if err := frames.NewRelay(b).Run(gctx, sc); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.Printf("HTTP API started on port %d", cfg.HTTPPort)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		log.Printf("RPC API started on port %d", cfg.RPCPort)
		if err := rpcServer.Start(addr); err != nil {
			return fmt.Errorf("failed to start RPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down flyspace...")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to settle the executing run: %v", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
		}
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown RPC server gracefully: %v", err)
		}
		return nil
	})

	err = g.Wait()
	log.Println("Flyspace stopped")
	return err
}

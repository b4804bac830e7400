// ABOUTME: Operator CLI for helpdesk-gateway users, tokens, profiles and conversations
// ABOUTME: Works directly on the configured database; status uses the gRPC health service

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/cache"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/store"
)

const banner = `
 _          _           _           _                   _           _
| |__   ___| |_ __   __| | ___  ___| | __     __ _  __| |_ __ ___ (_)_ __
| '_ \ / _ \ | '_ \ / _' |/ _ \/ __| |/ /___ / _' |/ _' | '_ ' _ \| | '_ \
| | | |  __/ | |_) | (_| |  __/\__ \   <____| (_| | (_| | | | | | | | | | |
|_| |_|\___|_| .__/ \__,_|\___||___/_|\_\    \__,_|\__,_|_| |_| |_|_|_| |_|
             |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		color.Red("Error: loading config: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "status":
		err = cmdStatus(ctx, os.Stdout, grpcAddr(cfg))
	case "user", "token", "profile", "conversation":
		err = withAdmin(cfg, os.Stdout, func(a *admin) error {
			switch cmd {
			case "user":
				return a.cmdUser(ctx, args)
			case "token":
				return a.cmdToken(ctx, args)
			case "conversation":
				return a.cmdConversation(ctx, args)
			default:
				return a.cmdProfile(ctx, args)
			}
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: helpdesk-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                                   Check gateway health over gRPC")
	fmt.Println("  user add <username>                      Create a user and print a token")
	fmt.Println("  user list                                List all users")
	fmt.Println("  token <username> [--ttl 720h]            Generate a JWT for a user")
	fmt.Println("  profile show <username>                  Show a user's expert profile")
	fmt.Println("  profile set <username> --bio B --link U  Replace a user's expert profile")
	fmt.Println("  conversation <id>                        Show a conversation and its claim history")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  HELPDESK_CONFIG          Config file path (default: ~/.config/helpdesk/gateway.yaml)")
	fmt.Println("  HELPDESK_GATEWAY_GRPC    Gateway gRPC address (overrides server.grpc_addr)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  helpdesk-admin user add alice")
	fmt.Println("  helpdesk-admin profile set alice --bio 'Postgres and Go' --link https://wiki.example.com/db")
	fmt.Println("  export HELPDESK_TOKEN=$(helpdesk-admin token alice --ttl 24h)")
	fmt.Println()
}

// admin bundles what the database commands need.
type admin struct {
	store    store.Store
	cache    cache.Cache
	verifier *auth.JWTVerifier
	logger   *slog.Logger
	out      io.Writer
}

// withAdmin opens the configured store and cache for the duration of fn.
func withAdmin(cfg *config.Config, out io.Writer, fn func(*admin) error) error {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	s, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	c, err := adminCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initializing cache: %w", err)
	}
	if closer, ok := c.(io.Closer); ok {
		defer closer.Close()
	}

	return fn(&admin{
		store:    s,
		cache:    c,
		verifier: verifier,
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		out:      out,
	})
}

// adminCache connects to the gateway's cache only when it is shared through
// Redis. A memory cache lives inside the gateway process, so invalidating a
// private copy here would change nothing; those entries age out on their TTL.
func adminCache(cfg config.CacheConfig) (cache.Cache, error) {
	if cfg.Backend != config.CacheRedis {
		return cache.Noop{}, nil
	}
	return cache.New(cfg)
}

func grpcAddr(cfg *config.Config) string {
	return getEnv("HELPDESK_GATEWAY_GRPC", cfg.Server.GRPCAddr)
}

// cmdStatus asks the gateway's gRPC health service whether it is serving.
func cmdStatus(ctx context.Context, out io.Writer, addr string) error {
	if addr == "" {
		return fmt.Errorf("no gRPC address configured (set server.grpc_addr or HELPDESK_GATEWAY_GRPC)")
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	fmt.Fprintf(out, "Gateway:  %s\n", addr)
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		red.Fprintln(out, "Status:   UNREACHABLE")
		return fmt.Errorf("health check failed: %w", err)
	}

	status := resp.GetStatus()
	if status != healthpb.HealthCheckResponse_SERVING {
		red.Fprintf(out, "Status:   %s\n", status)
		return fmt.Errorf("gateway is %s", status)
	}
	green.Fprintf(out, "Status:   %s\n", status)
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

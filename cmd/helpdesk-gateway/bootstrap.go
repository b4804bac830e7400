// ABOUTME: First-run setup commands: interactive init and one-shot bootstrap
// ABOUTME: Both render the same YAML config template with a random JWT secret

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/helpdesk-gateway/internal/auth"
	"github.com/2389/helpdesk-gateway/internal/config"
	"github.com/2389/helpdesk-gateway/internal/store"
)

const bootstrapTokenTTL = 30 * 24 * time.Hour

// setupAnswers holds the values written into a generated config file.
type setupAnswers struct {
	HTTPAddr  string
	GRPCAddr  string
	DBPath    string
	JWTSecret string

	CacheBackend string
	RedisURL     string

	LLMBaseURL string
	LLMModel   string

	TailscaleEnabled  bool
	TailscaleHostname string
	TailscaleAuthKey  string

	LogLevel  string
	LogFormat string
}

func defaultAnswers(dbPath, secret string) setupAnswers {
	return setupAnswers{
		HTTPAddr:     "localhost:8080",
		GRPCAddr:     "localhost:50051",
		DBPath:       dbPath,
		JWTSecret:    secret,
		CacheBackend: config.CacheMemory,
		LLMModel:     "gpt-4o-mini",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// renderConfig produces a gateway.yaml that config.Parse accepts.
// The LLM key is always read from OPENAI_API_KEY at load time.
func renderConfig(a setupAnswers, generatedBy string) string {
	var b strings.Builder
	b.WriteString("# helpdesk-gateway configuration\n")
	fmt.Fprintf(&b, "# Generated by helpdesk-gateway %s\n\n", generatedBy)

	b.WriteString("server:\n")
	fmt.Fprintf(&b, "  http_addr: %q\n", a.HTTPAddr)
	fmt.Fprintf(&b, "  grpc_addr: %q\n\n", a.GRPCAddr)

	b.WriteString("database:\n")
	fmt.Fprintf(&b, "  driver: %q\n", config.DriverSQLite)
	fmt.Fprintf(&b, "  path: %q\n\n", a.DBPath)

	b.WriteString("auth:\n")
	fmt.Fprintf(&b, "  jwt_secret: %q\n\n", a.JWTSecret)

	b.WriteString("cache:\n")
	fmt.Fprintf(&b, "  backend: %q\n", a.CacheBackend)
	if a.RedisURL != "" {
		fmt.Fprintf(&b, "  redis_url: %q\n", a.RedisURL)
	}
	b.WriteString("\n")

	b.WriteString("llm:\n")
	if a.LLMBaseURL != "" {
		fmt.Fprintf(&b, "  base_url: %q\n", a.LLMBaseURL)
	}
	b.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	fmt.Fprintf(&b, "  model: %q\n", a.LLMModel)
	b.WriteString("  timeout: \"60s\"\n\n")

	b.WriteString("tailscale:\n")
	fmt.Fprintf(&b, "  enabled: %t\n", a.TailscaleEnabled)
	if a.TailscaleEnabled {
		fmt.Fprintf(&b, "  hostname: %q\n", a.TailscaleHostname)
		if a.TailscaleAuthKey != "" {
			fmt.Fprintf(&b, "  auth_key: %q\n", a.TailscaleAuthKey)
		}
	}
	b.WriteString("\n")

	b.WriteString("jobs:\n")
	b.WriteString("  workers: 4\n")
	b.WriteString("  max_attempts: 3\n")
	b.WriteString("  base_backoff: \"1s\"\n\n")

	b.WriteString("updates:\n")
	b.WriteString("  stream_interval: \"2s\"\n\n")

	b.WriteString("logging:\n")
	fmt.Fprintf(&b, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&b, "  format: %q\n\n", a.LogFormat)

	b.WriteString("metrics:\n")
	b.WriteString("  enabled: true\n")
	b.WriteString("  path: \"/metrics\"\n")

	return b.String()
}

func generateSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

func writeConfigFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// parseBootstrapArgs accepts "--username value" and "--username=value".
func parseBootstrapArgs(args []string) (string, error) {
	var username string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--username" || arg == "-u":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--username requires a value")
			}
			username = args[i+1]
			i++
		case strings.HasPrefix(arg, "--username="):
			username = strings.TrimPrefix(arg, "--username=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return strings.TrimSpace(username), nil
}

// runBootstrap performs first-time setup: it writes a config with a random
// JWT secret if none exists, creates the database, and optionally creates the
// first user and saves a token for it next to the config file.
func runBootstrap(ctx context.Context, args []string) error {
	username, err := parseBootstrapArgs(args)
	if err != nil {
		return err
	}
	if len(username) > 100 {
		return fmt.Errorf("username exceeds maximum length of 100 characters")
	}

	configPath := config.DefaultPath()
	dataPath := config.DefaultDataDir()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secret, err := generateSecret()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		answers := defaultAnswers(filepath.Join(dataPath, "helpdesk.db"), secret)
		if err := writeConfigFile(configPath, renderConfig(answers, "bootstrap")); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	s, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Driver)

	if username == "" {
		fmt.Println()
		green.Println("  Bootstrap complete!")
		fmt.Println("    helpdesk-admin user add <username>   # create a user")
		fmt.Println("    helpdesk-gateway serve               # start the gateway")
		fmt.Println()
		return nil
	}

	user := &store.User{Username: username}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return fmt.Errorf("user %s already exists", username)
		}
		return fmt.Errorf("creating user: %w", err)
	}
	green.Printf("  ✓ Created user: %s (id %d)\n", user.Username, user.ID)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, bootstrapTokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	fmt.Printf("  Token (expires %s):\n", time.Now().Add(bootstrapTokenTTL).UTC().Format("Jan 02, 2006"))
	fmt.Printf("  %s\n", token)
	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    helpdesk-gateway serve")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("helpdesk-gateway configuration setup")
	fmt.Println("====================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}
	a := defaultAnswers(filepath.Join(config.DefaultDataDir(), "helpdesk.db"), secret)

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", a.HTTPAddr)
	a.GRPCAddr = prompt(reader, "gRPC health address", a.GRPCAddr)

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", a.DBPath)

	fmt.Println("\n--- Cache Configuration ---")
	a.CacheBackend = prompt(reader, "Cache backend (memory/redis/none)", a.CacheBackend)
	if a.CacheBackend == config.CacheRedis {
		a.RedisURL = prompt(reader, "Redis URL", "redis://localhost:6379/0")
	}

	fmt.Println("\n--- LLM Configuration ---")
	a.LLMBaseURL = prompt(reader, "OpenAI-compatible base URL (empty for api.openai.com)", "")
	a.LLMModel = prompt(reader, "Model", a.LLMModel)

	fmt.Println("\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TailscaleHostname = prompt(reader, "Tailscale hostname", "helpdesk")
		a.TailscaleAuthKey = prompt(reader, "Tailscale auth key (leave empty for TS_AUTHKEY)", "")
	}

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", a.LogLevel)
	a.LogFormat = prompt(reader, "Log format (text/json)", a.LogFormat)

	if err := writeConfigFile(outputFile, renderConfig(a, "init")); err != nil {
		return err
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nSet OPENAI_API_KEY, then start the server:")
	fmt.Println("  helpdesk-gateway serve")

	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

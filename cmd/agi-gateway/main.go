// ABOUTME: Entry point for the agi-gateway FastAGI application server
// ABOUTME: Serves AGI calls from Asterisk and exposes the call/CDR HTTP API

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/2389/agi-gateway/internal/auth"
	"github.com/2389/agi-gateway/internal/config"
	"github.com/2389/agi-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
             _                   _
  __ _  __ _(_)      __ _  __ _| |_ _____      ____ _ _   _
 / _' |/ _' | |_____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| | (_| | |_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|\__, |_|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
       |___/         |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > AGI_GATEWAY_CONFIG env var > ./config.yaml >
// XDG_CONFIG_HOME/agi-gateway/config.yaml > ~/.config/agi-gateway/config.yaml
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}

	if envPath := os.Getenv("AGI_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agi-gateway", "config.yaml")
}

// getDataPath returns the path to the agi-gateway data directory.
// Priority: XDG_DATA_HOME/agi-gateway > ~/.local/share/agi-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "agi-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agi-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the FastAGI and HTTP servers")
		fmt.Println("  init                   Write a starter config file with a fresh API secret")
		fmt.Println("  token --name NAME      Mint a bearer token for the HTTP API")
		fmt.Println("  health                 Check gateway health")
		fmt.Println("  calls                  List active calls")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "calls":
		err = runCalls(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configPath := getConfigPath(*configFlag)

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("FastAGI: %s\n", cfg.Server.FastAGIAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("CDR db:  %s\n", cfg.Database.Path)

	if cfg.Auth.APISecret == "" {
		yellow.Print("    ▶ ")
		fmt.Printf("API:     open (no api_secret configured)\n")
	}

	fmt.Println()

	logger.Info("starting agi-gateway",
		"config", configPath,
		"fastagi_addr", cfg.Server.FastAGIAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// runInit writes a starter config file with a freshly generated API secret.
// Unlike interactive setup wizards, this is a single non-interactive command
// so it works in provisioning scripts: agi-gateway init && agi-gateway serve
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "Path to config file")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	configPath := getConfigPath(*configFlag)

	if _, err := os.Stat(configPath); err == nil && !*force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	// Generate random API secret so the HTTP API starts out authenticated
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating API secret: %w", err)
	}
	apiSecret := base64.StdEncoding.EncodeToString(secretBytes)

	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "cdr.db")

	configContent := fmt.Sprintf(`# agi-gateway configuration
# Generated by agi-gateway init

server:
  fastagi_addr: "0.0.0.0:4573"
  http_addr: "localhost:8080"
  max_conns: 0

database:
  path: "%s"

auth:
  api_secret: "%s"

agi:
  command_timeout: "5s"

apps:
  routes:
    - script: "app/echo"
      app: "echo"
    # - script: "dial/*"
    #   app: "dialout"
    #   target: "SIP/provider/{ext}"

logging:
  level: "info"
  format: "text"
`, dbPath, apiSecret)

	// Create config directory
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Create data directory
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("  ✓ Created config: %s\n", configPath)
	green.Printf("  ✓ Data directory: %s\n", dataPath)

	fmt.Println()
	yellow.Println("  Ready to go:")
	fmt.Println("    agi-gateway serve                # start the gateway")
	fmt.Println("    agi-gateway token --name admin   # mint an API token")
	fmt.Println()
	fmt.Println("  Point an Asterisk dialplan at the gateway:")
	fmt.Println("    exten => 100,1,AGI(agi://127.0.0.1:4573/app/echo)")
	fmt.Println()

	return nil
}

// runToken mints a signed bearer token for the HTTP API. The token goes to
// stdout and everything else to stderr, so the output can be captured:
//
//	export AGI_GATEWAY_TOKEN=$(agi-gateway token --name ops)
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "Path to config file")
	name := fs.StringP("name", "n", "", "Token subject, e.g. a client or operator name")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("--name flag is required")
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.APISecret == "" {
		return fmt.Errorf("auth.api_secret not configured (run agi-gateway init or set it manually)")
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.APISecret))
	token, err := verifier.Generate(*name, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	expiresAt := time.Now().Add(*ttl).UTC()
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "subject %q, expires %s\n", *name, expiresAt.Format("Jan 02, 2006"))

	return nil
}

func runHealth(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runCalls(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("calls", flag.ContinueOnError)
	configFlag := fs.StringP("config", "c", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath(*configFlag))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to the calls endpoint with context
	url := fmt.Sprintf("http://%s/api/calls", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token := os.Getenv("AGI_GATEWAY_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing calls failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

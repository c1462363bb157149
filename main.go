package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"ragos/api"
	"ragos/config"
	"ragos/model"
	"ragos/storage"
	"ragos/ui"
)

const (
	Version = "v0.1.0"
	License = "Apache-2.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	tokens, err := newTokenStore(cfg)
	if err != nil {
		fmt.Printf("Failed to set up token storage: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		runCommand(os.Args[1], tokens)
		return
	}

	cache, err := storage.NewConversationCache(cfg.DataDir())
	if err != nil {
		fmt.Printf("Failed to initialize conversation cache: %v\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	client := api.NewClient(cfg.BaseURL(), tokens)

	// Redraw notifications flow session -> channel -> bubbletea. The send is
	// non-blocking: a full channel already has a redraw pending.
	updates := make(chan struct{}, 1)
	notify := func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	}

	dataDir := cfg.DataDir()
	sessionOpts := []model.SessionOption{
		model.WithChangeNotifier(notify),
		model.WithInvalidateSink(func() {
			if err := cache.Invalidate(); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[Main] Cache invalidation failed: %v", err)
			}
		}),
		model.WithConversationSink(func(id string) {
			if err := storage.SaveCurrentConversationID(dataDir, id); err != nil && config.DebugLog != nil {
				config.DebugLog.Printf("[Main] Saving resume marker failed: %v", err)
			}
		}),
	}
	if lastConversation := storage.LoadCurrentConversationID(dataDir); lastConversation != "" {
		sessionOpts = append(sessionOpts, model.WithConversationID(lastConversation))
	}

	session := model.NewChatSession(client, sessionOpts...)

	app := ui.NewAppView(cfg, session, client, cache, updates)
	p := tea.NewProgram(
		app,
		tea.WithAltScreen(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newTokenStore builds the token store with the at-rest encryption the user
// configured. With the ssh_key method the manager must initialize before the
// TUI starts, so a bad key path or missing passphrase fails fast.
func newTokenStore(cfg *config.Config) (*config.TokenStore, error) {
	switch cfg.EncryptionMethod {
	case config.EncryptionNone:
		return config.NewTokenStore(cfg.DataDir(), nil), nil

	case config.EncryptionSSHKey:
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("encryption method %q needs ssh_key_path in config.toml", cfg.EncryptionMethod)
		}
		enc := config.NewEncryptionManager(config.EncryptionSSHKey, config.ExpandPath(cfg.SSHKeyPath))
		if passphrase := os.Getenv("RAGOS_SSH_KEY_PASSPHRASE"); passphrase != "" {
			enc.SetPassphrase(passphrase)
		}
		if err := enc.Initialize(); err != nil {
			return nil, err
		}
		return config.NewTokenStore(cfg.DataDir(), enc), nil

	default:
		return nil, fmt.Errorf("unknown encryption method %q in config.toml", cfg.EncryptionMethod)
	}
}

// runCommand dispatches the non-TUI subcommands.
func runCommand(name string, tokens *config.TokenStore) {
	switch name {
	case "login":
		fmt.Print("Paste your RAG.OS access token: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintf(os.Stderr, "Failed to read token: %v\n", err)
			os.Exit(1)
		}
		token := strings.TrimSpace(line)
		if token == "" {
			fmt.Fprintln(os.Stderr, "No token entered, nothing saved.")
			os.Exit(1)
		}
		if err := tokens.Save(token); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Access token saved.")

	case "logout":
		if err := tokens.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to remove token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Access token removed.")

	case "version":
		fmt.Printf("ragos %s (%s)\n", Version, License)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q. Commands: login, logout, version\n", name)
		os.Exit(1)
	}
}

// Command intervene is the terminal front end of the intervention realtime
// core: login, ticket listing, the live notification feed, and an
// interactive chat session, all against the same engine the GUI embeds.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/assistio/intervene/client"
	"github.com/assistio/intervene/internal/config"
	"github.com/assistio/intervene/internal/session"
	"github.com/assistio/intervene/internal/statestore"
)

var (
	cfg *config.Config
	log *logrus.Logger

	flagAPIURL   string
	flagWSURL    string
	flagStateDB  string
	flagToken    string
	flagLogLevel string
	flagFmt      string
)

type configFile struct {
	Profiles      map[string]configProfile `yaml:"profiles"`
	ActiveProfile string                   `yaml:"active_profile"`
}

type configProfile struct {
	APIURL  string `yaml:"api_url"`
	WSURL   string `yaml:"ws_url"`
	Token   string `yaml:"token"`
	StateDB string `yaml:"state_db"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "intervene",
		Short:   "Realtime notification and chat client for the intervention platform",
		Version: config.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("intervene version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "API base URL (env: INTERVENE_API_URL)")
	rootCmd.PersistentFlags().StringVar(&flagWSURL, "ws-url", "", "WebSocket base URL (env: INTERVENE_WS_URL)")
	rootCmd.PersistentFlags().StringVar(&flagStateDB, "state-db", "", "Path of the local state database (env: INTERVENE_STATE_DB)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Auth token (env: INTERVENE_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (env: LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagFmt, "format", "table", "Output format: json|table")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newTicketsCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newMockserverCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup resolves configuration (flag, then env, then profile file) and
// builds the shared logger.
func setup() error {
	base, err := config.Load()
	if err != nil {
		return err
	}
	cfg = base

	applyProfile(cfg)

	if flagAPIURL != "" {
		cfg.APIBaseURL = flagAPIURL
	}
	if flagWSURL != "" {
		cfg.WSBaseURL = flagWSURL
	}
	if flagStateDB != "" {
		cfg.StateDBPath = flagStateDB
	}
	if flagToken != "" {
		cfg.Token = config.Secret(flagToken)
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log = logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log.SetLevel(level)

	return nil
}

// applyProfile fills config gaps from ~/.intervene/config.yaml. Flags and
// env always win; the file only supplies what is still unset.
func applyProfile(cfg *config.Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	profile, ok := loadProfile(filepath.Join(home, ".intervene", "config.yaml"))
	if !ok {
		return
	}

	if os.Getenv("INTERVENE_API_URL") == "" && flagAPIURL == "" && profile.APIURL != "" {
		cfg.APIBaseURL = profile.APIURL
	}
	if os.Getenv("INTERVENE_WS_URL") == "" && flagWSURL == "" && profile.WSURL != "" {
		cfg.WSBaseURL = profile.WSURL
	}
	if os.Getenv("INTERVENE_STATE_DB") == "" && flagStateDB == "" && profile.StateDB != "" {
		cfg.StateDBPath = profile.StateDB
	}
	if cfg.Token.Value() == "" && flagToken == "" && profile.Token != "" {
		cfg.Token = config.Secret(profile.Token)
	}
}

func loadProfile(path string) (configProfile, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return configProfile{}, false
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return configProfile{}, false
	}

	name := file.ActiveProfile
	if name == "" {
		name = "default"
	}
	profile, ok := file.Profiles[name]

	return profile, ok
}

// openStore opens the local state database at the configured path.
func openStore() *statestore.Store {
	store, err := statestore.Open(cfg.StateDBPath, log)
	if err != nil {
		fatal("open state database", err)
	}
	return store
}

// restoreSession rebuilds the session context from stored credentials, or
// from the --token flag when one is given.
func restoreSession(store *statestore.Store) *session.Context {
	if cfg.Token.Value() != "" {
		api := client.New(cfg.APIBaseURL, client.WithToken(cfg.Token.Value()), client.WithTimeout(10*time.Second))
		user, err := api.Users.Me(context.Background())
		if err != nil {
			fatal("resolve token", err)
		}
		return session.New(cfg.Token, *user)
	}

	sess, err := session.FromStore(store)
	if err != nil {
		fatal("restore session (run `intervene login <token>` first)", err)
	}
	return sess
}

func apiClient(sess *session.Context) *client.Client {
	return client.New(cfg.APIBaseURL, client.WithToken(sess.Token().Value()))
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}

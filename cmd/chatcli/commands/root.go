package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	chat "github.com/looplabs/chatcore"
)

var (
	home      string
	serverURL string
	authToken string
	verbose   bool

	logger *zap.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:           "chatcli",
		Short:         "End-to-end encrypted chat client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".chatcli")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			cfg, err := loadConfig(filepath.Join(home, "config.toml"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if serverURL == "" {
				serverURL = cfg.ServerURL
			}
			if authToken == "" {
				authToken = cfg.AuthToken
			}

			if verbose {
				logger, err = zap.NewDevelopment()
			} else {
				logger, err = zap.NewProduction()
			}
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "profile dir (default ~/.chatcli)")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "chat server base URL")
	root.PersistentFlags().StringVar(&authToken, "token", "", "session token")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd(), fingerprintCmd(), sendCmd(), listenCmd())
	return root.Execute()
}

// newClient builds the chat client from the resolved flags/config.
func newClient() (*chat.Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("no server configured (use --server or config.toml)")
	}
	if authToken == "" {
		return nil, fmt.Errorf("no session token (use --token or config.toml)")
	}
	return chat.NewClient(chat.Config{
		ServerURL:  serverURL,
		AuthToken:  authToken,
		ProfileDir: home,
		Logger:     logger,
	})
}

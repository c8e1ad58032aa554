package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/looplabs/chatcore/crypto"
	"github.com/looplabs/chatcore/directory"
	"github.com/looplabs/chatcore/e2ee"
	"github.com/looplabs/chatcore/keystore"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate an encryption key pair and publish the public key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := keystore.New(home, logger)
			result, err := store.EnsureKeyPair()
			if err != nil {
				return fmt.Errorf("ensure key pair: %w", err)
			}

			if serverURL != "" && authToken != "" {
				session := directory.NewSession(authToken)
				api := directory.NewClient(serverURL, session, logger)
				coord := e2ee.NewCoordinator(api, logger)
				coord.Init(cmd.Context(), store)
				if !coord.Enabled() {
					fmt.Println("Warning: key publish failed, messages will be sent in plaintext until it succeeds.")
				}
			} else {
				fmt.Println("No server configured, key pair kept local only.")
			}

			if result.Generated {
				fmt.Println("Key pair created.")
			} else {
				fmt.Println("Key pair already present.")
			}
			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(result.KeyPair.Public))
			return nil
		},
	}
}

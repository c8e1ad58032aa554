package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/looplabs/chatcore/crypto"
	"github.com/looplabs/chatcore/directory"
	"github.com/looplabs/chatcore/keystore"
)

// fingerprint [user]: without an argument prints the local identity's
// fingerprint, with one it fetches the user's published key and prints that,
// so two people can compare out of band.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [user]",
		Short: "Print a key fingerprint for out-of-band verification",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				store := keystore.New(home, logger)
				result, err := store.EnsureKeyPair()
				if err != nil {
					return err
				}
				fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint(result.KeyPair.Public))
				return nil
			}

			if serverURL == "" || authToken == "" {
				return fmt.Errorf("fetching another user's key needs --server and --token")
			}
			session := directory.NewSession(authToken)
			api := directory.NewClient(serverURL, session, logger)
			encoded, err := api.FetchPublicKey(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("fetch key for %s: %w", args[0], err)
			}
			pub, err := crypto.DecodeKey(encoded)
			if err != nil {
				return fmt.Errorf("published key for %s is malformed: %w", args[0], err)
			}
			fmt.Printf("Fingerprint (%s): %s\n", args[0], crypto.Fingerprint(pub))
			return nil
		},
	}
}

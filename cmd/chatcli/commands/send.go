package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation> <peer> <message>",
		Short: "Send a message, encrypted when the peer has a published key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			if err := client.Start(cmd.Context()); err != nil {
				return err
			}
			defer client.Close()

			msg, err := client.SendMessage(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			if msg.IsEncrypted {
				fmt.Println("sent (encrypted)")
			} else {
				fmt.Println("sent (plaintext)")
			}
			return nil
		},
	}
}

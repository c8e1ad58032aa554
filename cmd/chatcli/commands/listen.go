package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/looplabs/chatcore/types"
)

// listen: stay connected and print events as they arrive, until interrupted.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print incoming messages and typing indicators",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client.Channel().AddHandlerFunc(func(f *types.Frame) error {
				switch f.Type {
				case types.EventNewMessage, types.EventMessageSent:
					if f.Message == nil {
						return nil
					}
					res := client.Display(ctx, *f.Message, f.Message.Sender)
					fmt.Printf("[%s] %s: %s\n", f.Message.ConversationID, f.Message.Sender, res.Text())
				case types.EventTyping:
					if f.IsTyping {
						fmt.Printf("[%s] %s is typing...\n", f.ConversationID, f.Username)
					}
				case types.EventMessagesRead:
					fmt.Printf("[%s] read by %s\n", f.ConversationID, f.ReaderID)
				}
				return nil
			})
			client.Channel().OnStatusChange(func(status types.ChannelStatus) {
				fmt.Printf("-- channel %s\n", status)
			})

			if err := client.Start(ctx); err != nil {
				return err
			}
			defer client.Close()

			fmt.Println("Listening. Ctrl-C to stop.")
			<-ctx.Done()
			return nil
		},
	}
}

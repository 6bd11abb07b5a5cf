package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"meshveil/chain"
	"meshveil/envelope"
	"meshveil/identity"
	"meshveil/message"
	"meshveil/store"
)

func sendCmd() *cobra.Command {
	var peerHandle, text string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message to a peer over an established chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayClient == nil {
				return fmt.Errorf("send requires --relay")
			}
			id, err := identityStore.Load(passphrase)
			if err != nil {
				return err
			}
			ownHash := identity.HandleHash(id.Handle)
			peerHash := identity.HandleHash(peerHandle)
			friendshipID := chain.FriendshipID(ownHash, peerHash)

			c, err := chainStore.Load(friendshipID)
			if err != nil {
				return fmt.Errorf("no established chain with %s, run ceremony first: %w", peerHandle, err)
			}

			pipeline := message.NewPipeline(c, id.SigningPriv, nil, ownHash, peerHash, friendshipID)
			env, err := pipeline.Encrypt(message.PlaintextFields{Text: []byte(text)})
			if err != nil {
				return err
			}
			if err := chainStore.Save(friendshipID, c); err != nil {
				return err
			}
			if err := relayClient.SendEnvelope(peerHash, env); err != nil {
				raw, marshalErr := envelope.Marshal(env)
				if marshalErr != nil {
					return marshalErr
				}
				queued := store.PendingEntry{
					FriendshipID:  hex.EncodeToString(friendshipID[:]),
					RecipientHash: hex.EncodeToString(peerHash[:]),
					Envelope:      raw,
				}
				pending, loadErr := queueStore.LoadPending()
				if loadErr != nil {
					return loadErr
				}
				pending = append(pending, queued)
				if saveErr := queueStore.SavePending(pending); saveErr != nil {
					return saveErr
				}
				fmt.Printf("relay unreachable (%v), message queued for later delivery.\n", err)
				return nil
			}
			fmt.Println("sent.")
			return nil
		},
	}
	cmd.Flags().StringVar(&peerHandle, "peer", "", "recipient handle")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	return cmd
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshveil/chain"
	"meshveil/identity"
	"meshveil/message"
)

func recvCmd() *cobra.Command {
	var peerHandle string
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt queued messages from a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayClient == nil {
				return fmt.Errorf("recv requires --relay")
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

			envs, err := relayClient.FetchEnvelopes(ownHash)
			if err != nil {
				return err
			}
			pipeline := message.NewPipeline(c, id.SigningPriv, nil, ownHash, peerHash, friendshipID)
			for _, env := range envs {
				// network_id is derived from the recovered plaintext, not
				// the envelope's wire bytes, so dedup survives a
				// retransmitted envelope whose signature or timestamp
				// differs from the original.
				decrypted, err := pipeline.Decrypt(env)
				if err != nil {
					fmt.Printf("dropped undecryptable message: %v\n", err)
					continue
				}
				seen, err := queueStore.HasReceived(decrypted.NetworkID)
				if err != nil {
					return err
				}
				if seen {
					continue
				}
				if err := queueStore.MarkReceived(decrypted.NetworkID); err != nil {
					return err
				}
				if decrypted.Gap() {
					fmt.Printf("(gap detected, %d links back) ", decrypted.GapOffset)
				}
				fmt.Printf("%s: %s\n", peerHandle, string(decrypted.Fields.Text))
			}
			return chainStore.Save(friendshipID, c)
		},
	}
	cmd.Flags().StringVar(&peerHandle, "peer", "", "sender handle")
	return cmd
}

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meshveil/chain"
	"meshveil/identity"
)

func respondCmd() *cobra.Command {
	var peerHandle string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Run a two-party CLUTCH ceremony against a peer, answering their offer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayClient == nil {
				return fmt.Errorf("respond requires --relay")
			}
			id, err := identityStore.Load(passphrase)
			if err != nil {
				return err
			}
			ownHash := identity.HandleHash(id.Handle)
			peerHash := identity.HandleHash(peerHandle)

			seed, err := runTwoPartyCeremony(ownHash, peerHash, timeout)
			if err != nil {
				return err
			}
			c, err := chain.Init(seed)
			if err != nil {
				return err
			}
			if err := confirmCeremony(ownHash, peerHash, c, timeout); err != nil {
				return err
			}
			friendshipID := chain.FriendshipID(ownHash, peerHash)
			if err := chainStore.Save(friendshipID, c); err != nil {
				return err
			}
			fmt.Printf("chain established, friendship id: %x\n", friendshipID)
			return nil
		},
	}
	cmd.Flags().StringVar(&peerHandle, "peer", "", "peer handle to run the ceremony with")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait for the peer")
	return cmd
}

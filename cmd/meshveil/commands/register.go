package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshveil/identity"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Compute a handle proof and register the local handle with a relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identityStore.Load(passphrase)
			if err != nil {
				return err
			}
			handleHash := identity.HandleHash(id.Handle)
			fmt.Println("computing handle proof, this takes about a second...")
			proof := identity.HandleProof(handleHash)

			if relayClient == nil {
				fmt.Printf("no relay configured; handle hash %x proof %x computed but not sent\n", handleHash, proof)
				return nil
			}

			if err := relayClient.Register(handleHash, proof); err != nil {
				return err
			}
			fmt.Println("registered.")
			return nil
		},
	}
}

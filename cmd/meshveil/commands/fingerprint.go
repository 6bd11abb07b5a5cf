package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshveil/identity"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the local identity's fingerprint and handle hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identityStore.Load(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Handle: %s\nFingerprint: %s\nHandle hash: %x\n",
				id.Handle, identity.Fingerprint(id.SigningPub), identity.HandleHash(id.Handle))
			return nil
		},
	}
}

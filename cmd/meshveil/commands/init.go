package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshveil/identity"
)

func initCmd() *cobra.Command {
	var handle string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a handle identity and store it securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if handle == "" {
				return fmt.Errorf("handle required (--handle)")
			}
			id, err := identity.New(handle)
			if err != nil {
				return err
			}
			if err := identityStore.Save(passphrase, id); err != nil {
				return err
			}
			handleHash := identity.HandleHash(handle)
			fmt.Printf("Identity created for %q.\nFingerprint: %s\nHandle hash: %x\n",
				handle, identity.Fingerprint(id.SigningPub), handleHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "human-chosen handle")
	return cmd
}

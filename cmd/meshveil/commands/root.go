// Package commands wires the meshveil CLI's Cobra command tree
// together with the identity/chain/queue stores and the relay
// client that back it.
package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"meshveil/relay"
	"meshveil/store"
)

var (
	home       string
	passphrase string
	relayURL   string

	identityStore *store.IdentityStore
	chainStore    *store.ChainStore
	queueStore    *store.QueueStore
	relayClient   *relay.Client
)

// Execute builds and runs the root meshveil command.
func Execute() error {
	root := &cobra.Command{
		Use:   "meshveil",
		Short: "End-to-end encrypted mesh messaging core",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".meshveil")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			identityStore = store.NewIdentityStore(home)
			chainStore = store.NewChainStore(home)
			queueStore = store.NewQueueStore(home)
			if relayURL != "" {
				relayClient = relay.NewClient(relayURL)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.meshveil)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting local keys")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "relay base URL (e.g. http://127.0.0.1:8080)")

	root.AddCommand(initCmd(), fingerprintCmd(), registerCmd(), ceremonyCmd(), respondCmd(), sendCmd(), recvCmd(), flushCmd())
	return root.Execute()
}

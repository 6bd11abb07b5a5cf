package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"meshveil/envelope"
)

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Retry delivery of messages queued while the relay was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if relayClient == nil {
				return fmt.Errorf("flush requires --relay")
			}
			pending, err := queueStore.LoadPending()
			if err != nil {
				return err
			}
			stillPending := pending[:0:0]
			for _, entry := range pending {
				var recipient [32]byte
				b, err := hex.DecodeString(entry.RecipientHash)
				if err != nil || len(b) != 32 {
					continue
				}
				copy(recipient[:], b)

				env, err := envelope.Unmarshal(entry.Envelope)
				if err != nil {
					continue
				}
				entry.Attempts++
				if err := relayClient.SendEnvelope(recipient, env); err != nil {
					stillPending = append(stillPending, entry)
					continue
				}
			}
			if err := queueStore.SavePending(stillPending); err != nil {
				return err
			}
			fmt.Printf("delivered %d, %d still pending.\n", len(pending)-len(stillPending), len(stillPending))
			return nil
		},
	}
}

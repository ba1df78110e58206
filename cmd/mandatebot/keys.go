package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/mandatebot/internal/crypto"
)

func encryptKeyCmd() *cobra.Command {
	var out, password string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt the agent private key into a password-protected file",
		Long: "Reads the hex private key from MANDATEBOT_AGENT_PRIVATE_KEY and writes it,\n" +
			"encrypted with the password, to --out. Point agent.encrypted_key_path at the file.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv("MANDATEBOT_AGENT_PRIVATE_KEY")
			if key == "" {
				return errors.New("MANDATEBOT_AGENT_PRIVATE_KEY is not set")
			}
			if password == "" {
				password = os.Getenv("MANDATEBOT_AGENT_KEY_PASSWORD")
			}

			blob, err := crypto.EncryptKey(key, password)
			if err != nil {
				return err
			}
			addr, err := crypto.KeyFileAddress(blob)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, blob, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "encrypted key for %s written to %s\n", addr.Hex(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "agent.key.json", "output file")
	cmd.Flags().StringVar(&password, "password", "", "encryption password (default $MANDATEBOT_AGENT_KEY_PASSWORD)")
	return cmd
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quantum-trader/internal/security"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Credential tooling",
		Long: `Generate keys, encrypt per-symbol venue credentials and hash API keys.

Encrypted values go into <BASE>_<QUOTE>_API_KEY and <BASE>_<QUOTE>_API_SECRET,
for example BTC_EUR_API_KEY. They are decrypted at startup with QT_SECRET_KEY.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "genkey",
		Short: "Generate a secret key for QT_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"key": key})
			}
			output.Println(key)
			return nil
		},
	})

	var keyFlag string
	encrypt := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a credential with the secret key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			key := keyFlag
			if key == "" {
				key = os.Getenv("QT_SECRET_KEY")
			}
			if key == "" {
				return fmt.Errorf("no secret key: pass --key or set QT_SECRET_KEY")
			}

			box, err := security.NewSecretBox(key)
			if err != nil {
				return err
			}
			ciphertext, err := box.Encrypt(args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"ciphertext": ciphertext})
			}
			output.Println(ciphertext)
			return nil
		},
	}
	encrypt.Flags().StringVar(&keyFlag, "key", "", "base64 secret key (default: $QT_SECRET_KEY)")
	cmd.AddCommand(encrypt)

	cmd.AddCommand(&cobra.Command{
		Use:   "hash <api-key>",
		Short: "Hash an API key for storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			hash, err := security.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"hash": hash})
			}
			output.Println(hash)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <api-key> <hash>",
		Short: "Check an API key against a stored hash",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ok := security.VerifyAPIKey(args[0], args[1])
			if output.IsJSON() {
				return output.JSON(map[string]bool{"match": ok})
			}
			if !ok {
				output.Error("API key does not match")
				return fmt.Errorf("api key mismatch")
			}
			output.Success("API key matches")
			return nil
		},
	})

	return cmd
}

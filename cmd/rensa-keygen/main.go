// Command rensa-keygen generates a fresh Ed25519 validator keypair,
// companion tooling to the single rensa binary (SPEC_FULL.md's
// "keydump/keygen CLI companions" supplemented feature) for standing up
// a new validator without hand-writing a keypair.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rensa-labs/rensa/crypto"
)

func main() {
	var dump bool

	rootCmd := &cobra.Command{
		Use:   "rensa-keygen",
		Short: "Generate a base58 Ed25519 validator keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeypair(nil)
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}
			seed := kp.Private.Seed()
			fmt.Printf("pubkey:  %s\n", kp.Public)
			fmt.Printf("keypair: %s\n", crypto.Base58Encode(seed))
			if dump {
				fmt.Printf("private: %s\n", crypto.Base58Encode(kp.Private))
			}
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().BoolVar(&dump, "dump", false, "also print the raw 64-byte private key")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new keypair and save it to the wallet path",
	Run: func(cmd *cobra.Command, args []string) {
		if err := os.MkdirAll(walletPath, 0o755); err != nil {
			log.Fatal(err)
		}

		privateKey, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}

		path := privateKeyPath()
		if err := crypto.SaveECDSA(path, privateKey); err != nil {
			log.Fatal(err)
		}

		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		fmt.Println("wallet:", filepath.Base(path))
		fmt.Println("address:", address.String())
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

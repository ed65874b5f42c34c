// Package cmd contains the wallet key-management CLI.
//
// The ledger this wallet talks to is in-memory only (see spec.md
// Non-goals: no persistence, no peer-to-peer networking), so unlike the
// teacher's wallet CLI this one has no node to send transactions to or
// query a balance from. It is scoped to what a standalone binary can
// still do usefully on its own: generate a keypair, save it, and print
// the address it derives.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	privateKeyName string
	walletPath     string
)

const keyExtension = ".ecdsa"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "walletcli",
	Short: "Generate and inspect ledger wallet keys",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&privateKeyName, "wallet", "w", "private.ecdsa", "Name of the private key file.")
	rootCmd.PersistentFlags().StringVarP(&walletPath, "wallet-path", "p", "zblock/wallets/", "Path to the directory holding private keys.")
}

func privateKeyPath() string {
	name := privateKeyName
	if !strings.HasSuffix(name, keyExtension) {
		name += keyExtension
	}
	return filepath.Join(walletPath, name)
}

// This program provides the wallet key-management CLI.
package main

import "github.com/ardanlabs/ledger/cmd/walletcli/cmd"

func main() {
	cmd.Execute()
}

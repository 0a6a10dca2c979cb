// Command admin bootstraps an authkeeper deployment: it migrates the account
// store and creates admin accounts.
package main

import (
	"os"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

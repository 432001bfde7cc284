// Petsync CLI entry point
//
// Petsync pairs a machine with a cloud account and runs the daemon that
// keeps the local agent installation in sync with the remote document
// store, executes remote commands, and relays streaming chat.
package main

import "github.com/jbctechsolutions/petsync/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}

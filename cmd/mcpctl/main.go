// Command mcpctl is a thin debug harness over the MCP client runtime built
// in this module: it wires cobra commands directly to mcpmanager.Manager
// for manual exercise during development.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command escrowctl is the operator CLI for a safetransfer server.
package main

import "github.com/mbd888/safetransfer/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/oshokin/alarm-quorum/cmd/alarm-node/cmd"

func main() {
	cmd.Execute()
}

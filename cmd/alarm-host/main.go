package main

import "github.com/oshokin/alarm-quorum/cmd/alarm-host/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/oshokin/alarm-quorum/cmd/alarm-checker/cmd"

func main() {
	cmd.Execute()
}

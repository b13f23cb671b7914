package main

import "github.com/tanpx12/chain-guard-bundler/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/bastionvault/bastion/cmd/bastion/cmd"

func main() {
	cmd.Execute()
}

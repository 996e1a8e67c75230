package main

import "github.com/relaypoint/email-gateway/cmd"

func main() {
	cmd.Execute()
}

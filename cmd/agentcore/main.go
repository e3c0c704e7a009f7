package main

import "github.com/lexcodex/agentcore/app/cmd"

func main() {
	cmd.Execute()
}

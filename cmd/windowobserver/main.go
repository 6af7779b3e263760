package main

import "github.com/bryanchriswhite/windowobserver/cmd/windowobserver/commands"

func main() {
	commands.Execute()
}

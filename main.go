package main

import "github.com/nextlevelbuilder/inboxd/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/nextlevelbuilder/clawsync/cmd"

func main() {
	cmd.Execute()
}

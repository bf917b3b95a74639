package main

import "github.com/nextlevelbuilder/guppy/cmd"

func main() {
	cmd.Execute()
}

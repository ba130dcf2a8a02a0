package main

import "github.com/brogergvhs/mangacache/cmd"

func main() {
	cmd.Execute()
}

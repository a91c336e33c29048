package main

import "github.com/nhalm/tapcount/cmd/tapcount/cmd"

func main() {
	cmd.Execute()
}

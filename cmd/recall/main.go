package main

import "github.com/felixgeelhaar/recall/cmd/recall/cli"

func main() {
	cli.Execute()
}

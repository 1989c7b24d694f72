package main

import "github.com/kajande/dulayni-cli/cmd"

func main() {
	cmd.Execute()
}

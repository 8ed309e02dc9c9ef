package main

import "github.com/nimbusworks/aviary/cmd"

func main() {
	cmd.Execute()
}

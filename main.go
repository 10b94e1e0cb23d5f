package main

import "github.com/sawitlab/tanya/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/V4T54L/fleet-dispatch/internal/cli"

func main() {
	cli.Execute()
}

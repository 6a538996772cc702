package main

import "github.com/devicelab-dev/airplane-runner/pkg/cli"

func main() {
	cli.Execute()
}

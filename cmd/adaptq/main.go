package main

import "github.com/UniQw/adaptq-go/internal/cli"

func main() {
	cli.Execute()
}

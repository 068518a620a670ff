package main

import "webrag/internal/cli"

func main() {
	cli.Execute()
}

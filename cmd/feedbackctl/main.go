package main

import "webinarfeedback/internal/cli"

func main() {
	cli.Execute()
}

package main

import "github.com/vietddude/mechwatch/internal/cli"

func main() {
	cli.Execute()
}

package main

import (
	"token-buy-alerts/internal/cli"
)

func main() {
	cli.Execute()
}

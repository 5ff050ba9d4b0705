package main

import (
	"github.com/opwatch/opwatch/cmd"
)

func main() {
	cmd.Execute()
}

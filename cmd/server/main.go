package main

import (
	"os"

	"github.com/Tyrowin/chatrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

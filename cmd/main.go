package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(os.Args, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ptguard:", err)
		os.Exit(1)
	}
}

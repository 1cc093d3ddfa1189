package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/freshkeeper/internal/client/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

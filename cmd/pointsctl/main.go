// Package main - точка входа для pointsctl, операторской утилиты движка очков.
package main

import (
	"fmt"
	"os"

	"github.com/bonkcomputer/points-engine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

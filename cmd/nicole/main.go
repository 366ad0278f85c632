package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ghealysr/nicole-assistant-sub000/internal/cli"
)

var rootCmd = &cobra.Command{
	Use:   "nicole",
	Short: "Declarative workflow orchestration engine",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aidesk-labs/kbengine/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbengined",
		Short: "Knowledge base engine daemon and CLI",
		Long:  "Knowledge base daemon for running the API server and managing stored chunks",
	}

	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.ReindexCmd())
	rootCmd.AddCommand(admin.ArchiveCmd())
	rootCmd.AddCommand(admin.DeleteCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

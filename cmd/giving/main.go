package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	serverURL string
	token     string
)

var rootCmd = &cobra.Command{
	Use:   "giving",
	Short: "Nightly giving donation service",
	Long: `Runs the nightly giving API server and talks to a running server
for admin tasks such as resets, simulated webhooks and test emails.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./giving.yaml or $HOME/giving.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of a running server")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "admin bearer token (minted from admin.jwt_secret when empty)")
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}
	Execute()
}

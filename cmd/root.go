package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "payment-gateway",
	Short: "Payment gateway microservice",
	Long:  "A payment gateway that routes card, checkout, crypto and bank-transfer payments to providers and notifies merchants of terminal outcomes.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"southwinds.dev/keylift"
)

var validateCmd = &cobra.Command{
	Use:   "validate <hexkey>",
	Short: "Check a candidate key against an encrypted database",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&dbPath, "db", "d", "", "path to the encrypted database file")
	mustMarkRequired(validateCmd, "db")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	key, err := decodeKeyArg(args[0])
	if err != nil {
		return err
	}

	format := keylift.DefaultFormat()
	page, err := keylift.ReadFirstPage(dbPath, format)
	if err != nil {
		return err
	}

	validator, err := keylift.NewValidator(format)
	if err != nil {
		return err
	}

	if !validator.Validate(page, key) {
		auditLogger.Log("validate_key", false, nil)
		fmt.Println("key is invalid")
		os.Exit(1)
	}

	auditLogger.Log("validate_key", true, nil)
	fmt.Println("key is valid")
	return nil
}

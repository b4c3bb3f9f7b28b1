package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"southwinds.dev/keylift"
)

var decryptOut string

var decryptCmd = &cobra.Command{
	Use:   "decrypt <hexkey>",
	Short: "Decrypt an encrypted database with a recovered key",
	Long: `Verifies the key against the database's first page, then decrypts every
page and writes a plaintext database. The output file is created with
user-only permissions.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecrypt,
}

func init() {
	decryptCmd.Flags().StringVarP(&dbPath, "db", "d", "", "path to the encrypted database file")
	decryptCmd.Flags().StringVarP(&decryptOut, "out", "o", "", "path for the decrypted database (default <db>.dec)")
	mustMarkRequired(decryptCmd, "db")
	rootCmd.AddCommand(decryptCmd)
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	key, err := decodeKeyArg(args[0])
	if err != nil {
		return err
	}

	outPath := decryptOut
	if outPath == "" {
		outPath = dbPath + ".dec"
	}

	decryptor, err := keylift.NewDecryptor(keylift.DefaultFormat())
	if err != nil {
		return err
	}

	if err = decryptor.DecryptDatabase(dbPath, outPath, key); err != nil {
		auditLogger.Log("decrypt_database", false, map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	auditLogger.Log("decrypt_database", true, map[string]interface{}{
		"output": outPath,
	})
	fmt.Printf("decrypted database written to %s\n", outPath)
	return nil
}

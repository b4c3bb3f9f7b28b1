package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"southwinds.dev/keylift"
	"southwinds.dev/keylift/internal/mem"
	"southwinds.dev/keylift/procmem"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Search a running process's memory for the database encryption key",
	Long: `Reads the first page of the encrypted database, then scans the target
process's readable and writable memory regions for candidate keys, validating
each against the page. Prints exactly one of:

  key found: <64 hex characters>
  key not found`,
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().IntVarP(&pid, "pid", "p", 0, "target process id")
	recoverCmd.Flags().StringVarP(&dbPath, "db", "d", "", "path to the encrypted database file")
	mustMarkRequired(recoverCmd, "pid", "db")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	opts := scanOptions()

	if opts.EnableMemoryLock {
		if _, err := mem.Lock(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			defer mem.Unlock()
		}
	}

	format := keylift.DefaultFormat()
	page, err := keylift.ReadFirstPage(dbPath, format)
	if err != nil {
		return err
	}

	reader, err := procmem.Open(pid)
	if err != nil {
		return err
	}
	defer reader.Close()

	scanner, err := keylift.NewScanner(format, opts, auditLogger)
	if err != nil {
		return err
	}

	key, err := scanner.Scan(cmd.Context(), page, reader)
	if errors.Is(err, keylift.ErrKeyNotFound) {
		fmt.Println("key not found")
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	// Hold the key in protected memory until the moment it is printed; the
	// source slice is wiped by the move.
	buf := memguard.NewBufferFromBytes(key)
	defer buf.Destroy()

	fmt.Printf("key found: %s\n", hex.EncodeToString(buf.Bytes()))
	return nil
}

func mustMarkRequired(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag required: %v", name, err))
		}
	}
}

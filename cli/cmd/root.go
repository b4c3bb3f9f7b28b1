package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"southwinds.dev/keylift/audit"
)

var (
	cfgFile     string
	auditLogger audit.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	RunID     string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keylift",
	Short: "Recover a database's at-rest encryption key from a running process",
	Long: `keylift validates candidate encryption keys against the first page of an
encrypted database and searches a live process's writable memory for the raw
key. With a recovered key it can also decrypt the whole database.

Reading another process's memory requires root or CAP_SYS_PTRACE.`,
	PersistentPreRunE: initializeContext,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if auditLogger != nil {
			return auditLogger.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.keylift.yaml)")

	// Scan flags
	rootCmd.PersistentFlags().Int("workers", 0, "validation workers (0 = one per CPU, capped)")
	rootCmd.PersistentFlags().Uint64("min-region-size", 0, "skip memory regions smaller than this many bytes")
	rootCmd.PersistentFlags().Uint64("max-region-size", 0, "skip memory regions larger than this many bytes")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "lock process memory to keep key material out of swap")

	bindFlagOrPanic("scan.workers", "workers")
	bindFlagOrPanic("scan.min_region_size", "min-region-size")
	bindFlagOrPanic("scan.max_region_size", "max-region-size")
	bindFlagOrPanic("scan.memory_lock", "memory-lock")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".keylift")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("KEYLIFT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("scan.workers", 0)
	viper.SetDefault("scan.min_region_size", 0)
	viper.SetDefault("scan.max_region_size", 0)
	viper.SetDefault("scan.memory_lock", false)
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("audit.options.file_path", filepath.Join(home, ".keylift", "audit.log"))
	}
}

func initializeContext(cmd *cobra.Command, args []string) error {
	hostname, _ := os.Hostname()
	cliContext = &CLIContext{
		RunID:     uuid.NewString(),
		Source:    hostname,
		StartTime: time.Now().UTC(),
	}

	var err error
	auditLogger, err = buildAuditLogger(targetPID())
	if err != nil {
		return fmt.Errorf("initialize audit logging: %w", err)
	}
	return nil
}

func buildAuditLogger(pid int) (audit.Logger, error) {
	if !viper.GetBool("audit.enabled") {
		return audit.NewNoOpLogger(), nil
	}
	return audit.NewLogger(&audit.Config{
		Enabled: true,
		RunID:   cliContext.RunID,
		PID:     pid,
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: viper.GetStringMap("audit.options"),
	})
}

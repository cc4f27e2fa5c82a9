// Package cmd provides the command-line interface of vmsim.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "vmsim",
	Short: "vmsim exercises a demand-paged virtual memory subsystem with " +
		"concurrent workloads.",
	Long: `vmsim exercises a demand-paged virtual memory subsystem with ` +
		`concurrent workloads. Flags default to the VMSIM_* environment ` +
		`variables, which can also be set in a .env file.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		err := loadEnvFile(envFile)
		if err != nil {
			return err
		}

		return applyEnv(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"File to load VMSIM_* variables from, if it exists.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It leaves through atexit so that recorders get flushed.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}

	err = godotenv.Load(path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}

	return nil
}

// flagEnv lists the environment variables that provide flag defaults.
var flagEnv = map[string]string{
	"frames":     "VMSIM_FRAMES",
	"swap-slots": "VMSIM_SWAP_SLOTS",
	"processes":  "VMSIM_PROCESSES",
	"pages":      "VMSIM_PAGES",
	"rounds":     "VMSIM_ROUNDS",
	"ops":        "VMSIM_OPS",
	"seed":       "VMSIM_SEED",
	"swap-file":  "VMSIM_SWAP_FILE",
	"record":     "VMSIM_RECORD",
}

// applyEnv sets every flag the user did not pass from its environment
// variable.
func applyEnv(cmd *cobra.Command) error {
	flags := cmd.Flags()

	for name, key := range flagEnv {
		if flags.Lookup(name) == nil || flags.Changed(name) {
			continue
		}

		value, found := os.LookupEnv(key)
		if !found {
			continue
		}

		err := flags.Set(name, value)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", key, value, err)
		}
	}

	return nil
}

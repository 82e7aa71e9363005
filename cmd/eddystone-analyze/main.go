package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"eddystone-parser/decoders"
)

var (
	rootCmd = &cobra.Command{
		Use:   "eddystone-analyze [hex]",
		Short: "Decode Eddystone BLE advertising reports",
		Long:  "eddystone-analyze decodes hex-encoded BLE advertising reports and prints the Eddystone frames they carry.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if len(args) == 0 {
				return runInteractive()
			}
			return runAnalyze(args[0])
		},
	}

	verbose bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print decoder diagnostics")
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func runInteractive() error {
	scanner := bufio.NewScanner(os.Stdin)
	logrus.Info("eddystone analyze mode. Paste a hex advertising report and press Enter (Ctrl+D to exit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runAnalyze(line); err != nil {
			logrus.WithError(err).Error("failed to decode report")
		}
	}
	return scanner.Err()
}

func runAnalyze(s string) error {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}
	results, err := decoders.DecodeReport(raw, logrus.StandardLogger())
	if err != nil {
		return err
	}
	for _, res := range results {
		fmt.Println(res.String())
	}
	return nil
}

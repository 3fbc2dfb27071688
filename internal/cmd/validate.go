// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AMD-AGI/Skylapse/brain/pkg/config"
	"github.com/AMD-AGI/Skylapse/brain/pkg/errors"
)

// Exit codes: 0 valid, 2 invalid document, 1 unreadable file or internal
// failure. Deployment scripts branch on them.
var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration file and exit",
	Run: func(cmd *cobra.Command, args []string) {
		path := resolveConfigPath()
		store := config.NewStore(path)
		err := store.Load()
		if err == nil {
			fmt.Printf("%s: valid\n", path)
			return
		}

		fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		if errors.CodeOf(err) == errors.CodeConfigInvalid {
			os.Exit(2)
		}
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

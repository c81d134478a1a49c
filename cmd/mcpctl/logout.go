package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"zypher/internal/zconfig"
	"zypher/pkg/mcpauth"
)

var flagLogoutURL string

func init() {
	logoutCmd.Flags().StringVar(&flagLogoutURL, "url", "", "remote server URL whose persisted OAuth artifacts to clear")
	_ = logoutCmd.MarkFlagRequired("url")
}

var logoutCmd = &cobra.Command{
	Use:   "logout <id>",
	Short: "Clear every persisted OAuth artifact for a remote server (clearAuthData)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := zconfig.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		storage, err := mcpauth.NewStorage(cfg.RemoteConfigDir)
		if err != nil {
			return fmt.Errorf("open oauth storage: %w", err)
		}
		hash := mcpauth.ServerHash(flagLogoutURL)
		if err := storage.ClearAll(hash); err != nil {
			return fmt.Errorf("clear oauth data for %q: %w", args[0], err)
		}
		fmt.Printf("cleared oauth data for %q (%s)\n", args[0], flagLogoutURL)
		return nil
	},
}

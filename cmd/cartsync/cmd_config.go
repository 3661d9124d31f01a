package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cartsync/internal/config"
)

// configCmd manages the settings file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or print the settings file",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a settings file with the defaults",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{skipConfig: "true"},
	RunE:        configInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings (file, defaults and environment)",
	Args:  cobra.NoArgs,
	RunE:  configShow,
}

func configInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	c := config.DefaultConfig()
	if err := c.Save(configPath); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	okColor.Fprintf(out, "Wrote %s\n", configPath)
	fmt.Fprintln(out, "Set notion.api_key and notion.database_id, then run \"cartsync check\".")
	return nil
}

func configShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if reveal, _ := cmd.Flags().GetBool("reveal"); !reveal {
		shown.Notion.APIKey = maskSecret(shown.Notion.APIKey)
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// maskSecret keeps the first and last four characters of long secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 12 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

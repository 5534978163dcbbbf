package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marmos91/dropzone/pkg/config"
)

var (
	initRoot  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Create a configuration file with sensible defaults and a freshly
generated JWT signing secret.

Examples:
  # Create config at the default location
  dropzone init --root /srv/files

  # Create config at a custom path
  dropzone init --root /srv/files --config /etc/dropzone/config.yaml

  # Overwrite an existing config
  dropzone init --root /srv/files --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initRoot, "root", "", "directory holding the managed files (required)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	_ = initCmd.MarkFlagRequired("root")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
	}

	root, err := filepath.Abs(initRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve root path: %w", err)
	}

	cfg := config.GetDefaultConfig(root)

	secret, err := generateSecret(32)
	if err != nil {
		return fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	cfg.API.JWT.Secret = secret

	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	fmt.Printf("Configuration file created at: %s\n\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  1. Review the configuration file")
	fmt.Println("  2. Start the server with: dropzone start")
	fmt.Println("  3. Add a user with: dropzone user add <name>")
	return nil
}

// generateSecret returns n random bytes hex encoded.
func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

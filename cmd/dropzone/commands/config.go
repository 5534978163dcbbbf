package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/marmos91/dropzone/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}
		fmt.Printf("Configuration is valid\n")
		fmt.Printf("  root:     %s\n", cfg.Storage.Root)
		fmt.Printf("  data dir: %s\n", cfg.Storage.DataDir)
		fmt.Printf("  api port: %d\n", cfg.API.Port)
		fmt.Printf("  auth:     %v\n", cfg.API.IsAuthEnabled())
		return nil
	},
}

var schemaOutput string

var configSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate JSON schema for the configuration file",
	Long: `Generate a JSON schema for the dropzone configuration file, usable for
IDE autocompletion and validation.

Examples:
  # Print schema to stdout
  dropzone config schema

  # Save schema to file
  dropzone config schema --output config.schema.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reflector := jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
		}

		schema := reflector.Reflect(&config.Config{})
		schema.Version = "https://json-schema.org/draft/2020-12/schema"
		schema.Title = "Dropzone Configuration"
		schema.Description = "Configuration schema for the dropzone server"

		schemaJSON, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to generate schema: %w", err)
		}

		if schemaOutput != "" {
			if err := os.WriteFile(schemaOutput, schemaJSON, 0644); err != nil {
				return fmt.Errorf("failed to write schema file: %w", err)
			}
			fmt.Printf("JSON schema written to %s\n", schemaOutput)
			return nil
		}

		fmt.Println(string(schemaJSON))
		return nil
	},
}

func init() {
	configSchemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "output file (default: stdout)")

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configSchemaCmd)
}

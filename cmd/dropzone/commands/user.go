package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dropzone/internal/cli/output"
	"github.com/marmos91/dropzone/internal/cli/prompt"
	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/config"
	"github.com/marmos91/dropzone/pkg/sandbox"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and folder grants",
	Long: `Manage the user database directly on disk.

The server picks up changes on the next request; no restart is needed.

Examples:
  dropzone user add alice
  dropzone user grant alice photos/2024 write
  dropzone user revoke alice photos/2024
  dropzone user list
  dropzone user passwd alice
  dropzone user delete alice
  dropzone user cleanup-grants`,
}

var userAddRole string

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUserStore()
		if err != nil {
			return err
		}

		role := acl.Role(userAddRole)
		if !role.IsValid() {
			return fmt.Errorf("invalid role %q (want user or admin)", userAddRole)
		}

		password, err := prompt.NewPassword(8)
		if err != nil {
			return err
		}

		if err := users.AddUser(args[0], password, role); err != nil {
			return err
		}
		fmt.Printf("User %q created with role %q\n", args[0], role)
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <username>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUserStore()
		if err != nil {
			return err
		}

		ok, err := prompt.Confirm(fmt.Sprintf("Delete user %q", args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled")
			return nil
		}

		if err := users.DeleteUser(args[0]); err != nil {
			return err
		}
		fmt.Printf("User %q deleted\n", args[0])
		return nil
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all users and their folder grants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUserStore()
		if err != nil {
			return err
		}
		db, err := users.Load()
		if err != nil {
			return err
		}

		names := make([]string, 0, len(db.Users))
		for name := range db.Users {
			names = append(names, name)
		}
		sort.Strings(names)

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			u := db.Users[name]
			rows = append(rows, []string{
				name,
				string(u.Role),
				formatGrants(u.Folders),
				u.CreatedAt.Format("2006-01-02"),
			})
		}

		output.Table(os.Stdout, []string{"Username", "Role", "Folders", "Created"}, rows)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd <username>",
	Short: "Change a user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUserStore()
		if err != nil {
			return err
		}

		password, err := prompt.NewPassword(8)
		if err != nil {
			return err
		}

		if err := users.SetPassword(args[0], password); err != nil {
			return err
		}
		fmt.Printf("Password updated for %q\n", args[0])
		return nil
	},
}

var userGrantCmd = &cobra.Command{
	Use:   "grant <username> <folder> <mode>",
	Short: "Grant folder access to a user (mode: read or write)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUserStore()
		if err != nil {
			return err
		}

		if err := users.SetGrant(args[0], args[1], acl.Mode(args[2])); err != nil {
			return err
		}
		fmt.Printf("Granted %s access on %q to %q\n", args[2], sandbox.Normalize(args[1]), args[0])
		return nil
	},
}

var userRevokeCmd = &cobra.Command{
	Use:   "revoke <username> <folder>",
	Short: "Revoke a folder grant from a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		users, err := openUserStore()
		if err != nil {
			return err
		}

		if err := users.RemoveGrant(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Revoked %q from %q\n", sandbox.Normalize(args[1]), args[0])
		return nil
	},
}

var userCleanupGrantsCmd = &cobra.Command{
	Use:   "cleanup-grants",
	Short: "Remove grants pointing at folders that no longer exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.MustLoad(GetConfigFile())
		if err != nil {
			return err
		}

		sb, err := sandbox.New(cfg.Storage.Root)
		if err != nil {
			return err
		}
		users, err := acl.NewStore(cfg.Storage.UsersFile())
		if err != nil {
			return err
		}
		resolver := acl.NewResolver(sb, users, cfg.API.IsAuthEnabled())

		removed, err := resolver.CleanupDeadGrants()
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("No dead grants found")
			return nil
		}
		for name, paths := range removed {
			fmt.Printf("%s: removed %s\n", name, strings.Join(paths, ", "))
		}
		return nil
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userAddRole, "role", "user", "role for the new user (user or admin)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userGrantCmd)
	userCmd.AddCommand(userRevokeCmd)
	userCmd.AddCommand(userCleanupGrantsCmd)
}

// openUserStore loads the config and opens the user database.
func openUserStore() (*acl.Store, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	return acl.NewStore(cfg.Storage.UsersFile())
}

// formatGrants renders a grant map as "path:mode" pairs sorted by path.
func formatGrants(grants map[string]acl.Mode) string {
	if len(grants) == 0 {
		return "-"
	}
	paths := make([]string, 0, len(grants))
	for rel := range grants {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	pairs := make([]string, 0, len(paths))
	for _, rel := range paths {
		pairs = append(pairs, fmt.Sprintf("%s:%s", rel, grants[rel]))
	}
	return strings.Join(pairs, ", ")
}

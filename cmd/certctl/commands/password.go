package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"sealed_chat/internal/cryptographic/kdf"

	"github.com/spf13/cobra"
)

// hashPasswordCmd produces the value for ADMIN_PASSWORD_HASH.
func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash an admin password for ADMIN_PASSWORD_HASH",
		Args:  cobra.MaximumNArgs(1),
		// no server round trip
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("read password from stdin: no input")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password must not be empty")
			}

			hash, err := kdf.HashPassword(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash.String())
			return err
		},
	}
}

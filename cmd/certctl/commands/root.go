package commands

import (
	"encoding/json"
	"io"
	"os"

	"sealed_chat/internal/config"
	"sealed_chat/internal/service/certclient"

	"github.com/spf13/cobra"
)

type globals struct {
	server string
	client *certclient.Client
}

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "certctl",
		Short:         "Inspect and manage sealed sender certificates",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.server == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				g.server = cfg.ServerHost
			}
			g.client = certclient.New(g.server)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&g.server, "server", "", "server host:port (default $SERVER_HOST)")

	root.AddCommand(
		publicKeyCmd(g),
		issueCmd(g),
		verifyCmd(g),
		revokeCmd(g),
		revokedCmd(g),
		hashPasswordCmd(),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads from path, or from in when path is "-" or empty.
func readInput(path string, in io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}

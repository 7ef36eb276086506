package commands

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"sealed_chat/internal/model"

	"github.com/spf13/cobra"
)

func publicKeyCmd(g *globals) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "public-key",
		Short: "Print the server's certificate signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := g.client.GetServerPublicKey(cmd.Context())
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprint(cmd.OutOrStdout(), resp.PublicKey)
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().BoolVar(&raw, "pem", false, "print only the PEM block")
	return cmd
}

func issueCmd(g *globals) *cobra.Command {
	var (
		deviceID    uint32
		identityKey string
	)
	cmd := &cobra.Command{
		Use:   "issue <user>",
		Short: "Request a sender certificate for a registered user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ik, err := base64.StdEncoding.DecodeString(identityKey)
			if err != nil || len(ik) == 0 {
				return errors.New("--identity-key must be base64")
			}
			cert, err := g.client.RequestCertificate(cmd.Context(), args[0], deviceID, ik)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cert.ToDTO())
		},
	}
	cmd.Flags().Uint32Var(&deviceID, "device", model.DefaultDeviceID, "device id")
	cmd.Flags().StringVar(&identityKey, "identity-key", "", "base64 X25519 identity public key")
	_ = cmd.MarkFlagRequired("identity-key")
	return cmd
}

func verifyCmd(g *globals) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Ask the server whether a certificate (JSON) is valid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			var dto model.CertificateDTO
			if err := json.Unmarshal(data, &dto); err != nil {
				return fmt.Errorf("parse certificate: %w", err)
			}
			cert, err := model.CertificateFromDTO(&dto)
			if err != nil {
				return err
			}
			resp, err := g.client.VerifyCertificate(cmd.Context(), cert)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "certificate JSON file, - for stdin")
	return cmd
}

func revokeCmd(g *globals) *cobra.Command {
	var (
		user     string
		password string
	)
	cmd := &cobra.Command{
		Use:   "revoke <certificate-id>",
		Short: "Permanently revoke a certificate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("CERTCTL_ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("admin password required: --password or $CERTCTL_ADMIN_PASSWORD")
			}
			resp, err := g.client.RevokeCertificate(cmd.Context(), args[0], user, password)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&user, "user", "admin", "admin user")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	return cmd
}

func revokedCmd(g *globals) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "revoked",
		Short: "List revoked certificates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var from time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be RFC 3339: %w", err)
				}
				from = t
			}
			resp, err := g.client.RevokedSince(cmd.Context(), from)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only revocations at or after this RFC 3339 time")
	return cmd
}

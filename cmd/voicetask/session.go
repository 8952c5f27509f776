package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicetask/internal/config"
	"github.com/GriffinCanCode/voicetask/internal/session"
)

// withSession runs fn against the configured session and closes it after.
func withSession(ctx context.Context, fn func(*session.Session) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := openSession(ctx, config.Load())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close(context.Background()) }()
	return fn(sess)
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [api-key]",
		Short: "Store the OpenAI API key",
		Long:  "Store the OpenAI API key. Without an argument the key is read from stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cred, err := credentialArg(args, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(sess *session.Session) error {
				if err := sess.Login(cmd.Context(), cred); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in, %d saved tasks.\n", sess.Store().Len())
				return nil
			})
		},
	}
}

func credentialArg(args []string, in io.Reader, out io.Writer) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if interactive() {
		fmt.Fprint(out, "OpenAI API key: ")
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), func(sess *session.Session) error {
				if err := sess.Logout(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
				return nil
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and configuration status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			out := cmd.OutOrStdout()
			return withSession(cmd.Context(), func(sess *session.Session) error {
				store := sess.Store()
				fmt.Fprintln(out, "voicetask status")
				fmt.Fprintln(out, strings.Repeat("=", 40))
				fmt.Fprintf(out, "  Logged in:  %v\n", sess.Authenticated())
				fmt.Fprintf(out, "  Tasks:      %d\n", store.Len())
				fmt.Fprintf(out, "  Language:   %s\n", store.Language())
				fmt.Fprintf(out, "  Storage:    %s\n", storageTarget(cfg))
				fmt.Fprintf(out, "  Models:     %s / %s\n", cfg.TranscribeModel, cfg.ExtractModel)
				fmt.Fprintf(out, "  Telemetry:  %s\n", enabled(cfg.TelemetryEnabled(), cfg.InfluxURL))
				fmt.Fprintf(out, "  Archive:    %s\n", enabled(cfg.ArchiveEnabled(), cfg.ArchiveBucket))
				return nil
			})
		},
	}
}

func storageTarget(cfg *config.Config) string {
	if cfg.StorageBackend == config.StorageMongo {
		return fmt.Sprintf("mongo %s/%s", cfg.MongoDatabase, cfg.MongoCollection)
	}
	return "file " + cfg.StateFile
}

func enabled(on bool, target string) string {
	if !on {
		return "disabled"
	}
	return target
}

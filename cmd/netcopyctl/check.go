package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/darshan-rambhia/netcopy"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <identifier>",
	Short: "Open a session, report whether it is usable, then close it",
	Long: `Creates a session through a pool configured from the environment and an optional
credentials file. For SSH identifiers --stat additionally checks a remote path over SFTP.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("env-prefix")
		credentials, _ := cmd.Flags().GetString("credentials")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		stat, _ := cmd.Flags().GetString("stat")

		return runCheck(cmd.Context(), cmd.OutOrStdout(), checkOptions{
			id:          args[0],
			envPrefix:   prefix,
			credentials: credentials,
			timeout:     timeout,
			statPath:    stat,
		})
	},
}

func init() {
	checkCmd.Flags().String("credentials", "", "YAML credentials file (overrides NETCOPY_CREDENTIALS_FILE)")
	checkCmd.Flags().Duration("timeout", time.Minute, "Overall check timeout")
	checkCmd.Flags().String("stat", "", "Remote path to stat over SFTP (ssh:// only)")
	rootCmd.AddCommand(checkCmd)
}

type checkOptions struct {
	id          string
	envPrefix   string
	credentials string
	timeout     time.Duration
	statPath    string
}

func runCheck(ctx context.Context, w io.Writer, opts checkOptions) error {
	settings, err := netcopy.LoadSettings(opts.envPrefix)
	if err != nil {
		return err
	}
	cfg, err := settings.Config()
	if err != nil {
		return err
	}

	poolOpts := []netcopy.Option{}
	credentialsFile := settings.CredentialsFile
	if opts.credentials != "" {
		credentialsFile = opts.credentials
	}
	if credentialsFile != "" {
		store, err := netcopy.LoadCredentialsFile(credentialsFile)
		if err != nil {
			return err
		}
		poolOpts = append(poolOpts, netcopy.WithCredentialStore(store))
	}

	pool := netcopy.NewPool(cfg, poolOpts...)
	defer pool.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	start := time.Now()
	h, err := pool.GetOrCreate(ctx, opts.id)
	if err != nil {
		return fmt.Errorf("check failed (%s): %w", netcopy.KindOf(err), err)
	}

	fmt.Fprintf(w, "connected: %s\n", netcopy.RedactIdentifier(opts.id))
	fmt.Fprintf(w, "scheme:    %s\n", h.Scheme())
	fmt.Fprintf(w, "valid:     %t\n", h.Validate())
	fmt.Fprintf(w, "elapsed:   %s\n", time.Since(start).Round(time.Millisecond))

	if opts.statPath == "" {
		return nil
	}

	session, err := netcopy.OpenSFTP(h)
	if err != nil {
		return err
	}
	defer session.Close()

	info, err := session.Stat(ctx, opts.statPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", opts.statPath, err)
	}
	fmt.Fprintf(w, "stat:      %s %d bytes %s\n", info.Mode(), info.Size(), info.ModTime().Format(time.RFC3339))
	return nil
}

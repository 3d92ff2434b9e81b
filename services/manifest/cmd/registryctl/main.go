package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brightseth/genesis-registry/pkg/db"
	gos3 "github.com/brightseth/genesis-registry/pkg/s3"
	"github.com/brightseth/genesis-registry/services/manifest"
	"github.com/brightseth/genesis-registry/services/registry"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "registryctl",
		Short:         "Administrative operations for the genesis registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML config file")

	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(newManifestCommand(&configPath))
	cmd.AddCommand(newWorksCommand(&configPath))
	cmd.AddCommand(newTokenCommand(&configPath))
	return cmd
}

func loadConfig(path *string) (manifest.CtlConfig, error) {
	cfg, err := manifest.LoadCtlConfig(*path)
	if err != nil {
		return manifest.CtlConfig{}, err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.ServiceSecret == "" {
		cfg.ServiceSecret = os.Getenv("REGISTRY_SERVICE_SECRET")
	}
	return cfg, nil
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("database_url or DATABASE_URL is required")
			}

			ctx := cmdContext(cmd)
			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			if err := db.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newManifestCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build and verify signed works manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newManifestBuildCommand(configPath))
	cmd.AddCommand(newManifestVerifyCommand())
	return cmd
}

func newManifestBuildCommand(configPath *string) *cobra.Command {
	var (
		agent  string
		bucket string
		ext    string
		output string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Enumerate an agent's storage prefix into a signed manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if bucket == "" {
				bucket = cfg.Bucket
			}
			if ext == "" {
				ext = cfg.Extension
			}

			signer, err := manifest.NewSignerFromEnv()
			if err != nil {
				return err
			}
			s3Client, err := gos3.NewClientFromEnv()
			if err != nil {
				return fmt.Errorf("init s3 client: %w", err)
			}

			m, err := manifest.Build(cmdContext(cmd), manifest.BuildConfig{
				Agent:     agent,
				Bucket:    bucket,
				Extension: ext,
				Lister:    s3Client,
				Signer:    signer,
			})
			if err != nil {
				return err
			}
			if err := m.Save(output); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d works for %s\n", output, len(m.Works), m.Agent)
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "Agent handle")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Storage bucket holding the agent's works")
	cmd.Flags().StringVar(&ext, "ext", "", "Object extension to include (default .png)")
	cmd.Flags().StringVar(&output, "output", "", "Destination manifest file")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newManifestVerifyCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a manifest's signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(file)
			if err != nil {
				return err
			}
			signer, err := manifest.NewSignerFromEnv()
			if err != nil {
				return err
			}
			if err := m.Verify(signer); err != nil {
				return fmt.Errorf("verify %s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: signature ok (%d works)\n", file, len(m.Works))
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Manifest file to verify")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newWorksCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "works",
		Short: "Bulk works operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newWorksImportCommand(configPath))
	cmd.AddCommand(newWorksBackfillCommand(configPath))
	return cmd
}

func newWorksBackfillCommand(configPath *string) *cobra.Command {
	var (
		agent       string
		bucket      string
		ext         string
		markIndexed bool
	)

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Enumerate an agent's storage prefix and upsert its works directly into the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if bucket == "" {
				bucket = cfg.Bucket
			}
			if ext == "" {
				ext = cfg.Extension
			}
			if cfg.DatabaseURL == "" {
				return errors.New("database_url or DATABASE_URL is required")
			}

			s3Client, err := gos3.NewClientFromEnv()
			if err != nil {
				return fmt.Errorf("init s3 client: %w", err)
			}

			ctx := cmdContext(cmd)
			m, err := manifest.Build(ctx, manifest.BuildConfig{
				Agent:     agent,
				Bucket:    bucket,
				Extension: ext,
				Lister:    s3Client,
			})
			if err != nil {
				return err
			}
			if len(m.Works) == 0 {
				return fmt.Errorf("no works found under %s", agent)
			}

			inputs := make([]registry.BackfillInput, 0, len(m.Works))
			for _, w := range m.Works {
				inputs = append(inputs, registry.BackfillInput{
					Ordinal:     w.Ordinal,
					StoragePath: w.StoragePath,
					Title:       w.Title,
					MimeType:    w.MimeType,
				})
			}

			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			result, err := registry.BackfillWorks(ctx, pool, agent, bucket, inputs, markIndexed)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backfilled %s: %d created, %d updated\n", agent, result.Created, result.Updated)
			return nil
		},
	}

	cmd.Flags().StringVar(&agent, "agent", "", "Agent handle")
	cmd.Flags().StringVar(&bucket, "bucket", "", "Storage bucket holding the agent's works")
	cmd.Flags().StringVar(&ext, "ext", "", "Object extension to include (default .png)")
	cmd.Flags().BoolVar(&markIndexed, "mark-indexed", false, "Switch the agent to indexed delivery after the backfill")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newWorksImportCommand(configPath *string) *cobra.Command {
	var (
		file    string
		apiBase string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Verify a signed manifest and push its works into the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if apiBase == "" {
				apiBase = cfg.APIBase
			}
			if cfg.ServiceSecret == "" {
				return errors.New("service_secret or REGISTRY_SERVICE_SECRET is required")
			}

			m, err := manifest.Load(file)
			if err != nil {
				return err
			}
			signer, err := manifest.NewSignerFromEnv()
			if err != nil {
				return err
			}
			if err := m.Verify(signer); err != nil {
				return fmt.Errorf("refusing unverified manifest: %w", err)
			}

			token, err := registry.IssueServiceToken(cfg.ServiceSecret, 15*time.Minute)
			if err != nil {
				return err
			}

			result, err := manifest.Import(cmdContext(cmd), manifest.ImportConfig{
				Manifest:     m,
				APIBase:      apiBase,
				ServiceToken: token,
				Stdout:       cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d works in %d batches\n", result.Created, result.Batches)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Signed manifest file")
	cmd.Flags().StringVar(&apiBase, "api", "", "Registry API base URL")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTokenCommand(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a short-lived service credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.ServiceSecret == "" {
				return errors.New("service_secret or REGISTRY_SERVICE_SECRET is required")
			}
			token, err := registry.IssueServiceToken(cfg.ServiceSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "Credential lifetime")
	return cmd
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

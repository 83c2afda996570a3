package main

import (
	"errors"
	"fmt"

	"github.com/WonderhoyTeam/AntiHub-Backend/internal/app"
	"github.com/WonderhoyTeam/AntiHub-Backend/internal/config"
	"github.com/spf13/cobra"
)

func newServeCmd(appCfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the poller and recovery loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunServer(cmd.Context(), *appCfg)
		},
	}
}

func newMigrateCmd(appCfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), *appCfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newRecoverCmd(appCfg *config.AppConfig) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Apply one shared pool recovery step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := app.RecoverOnce(cmd.Context(), *appCfg, force)
			if err != nil {
				return err
			}
			if result.Skipped {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "current period already recovered (use --force to run anyway)")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pools: %d recovered: %d failed: %d\n", result.Pools, result.Recovered, result.Failed)
			if result.Failed > 0 {
				return errors.Join(result.Errors...)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore the per-period recovery lock")
	return cmd
}

func newUserCmd(appCfg *config.AppConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}

	var params app.CreateUserParams
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := app.CreateUser(cmd.Context(), *appCfg, params)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", params.Username, id)
			return nil
		},
	}
	create.Flags().StringVar(&params.Username, "username", "", "login name")
	create.Flags().StringVar(&params.Password, "password", "", "login password")
	create.Flags().BoolVar(&params.Admin, "admin", false, "grant administrator access")
	_ = create.MarkFlagRequired("username")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func newTokenCmd(appCfg *config.AppConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
	}
	issue := &cobra.Command{
		Use:   "issue <username>",
		Short: "Print a signed token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := app.IssueToken(cmd.Context(), *appCfg, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.AddCommand(issue)
	return cmd
}

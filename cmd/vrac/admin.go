package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vrac/internal/auth"
	"vrac/internal/cleanup"
)

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Force a cleanup pass over expired files and tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			reaper := cleanup.NewReaper(a.store, a.writes, a.root)
			return reaper.RunOnce(context.Background())
		},
	}
}

func genUserCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "gen-user",
		Short: "Create a user allowed to mint tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			authSvc := auth.NewService(a.store, a.writes)
			if err := authSvc.CreateUser(context.Background(), username, password); err != nil {
				return fmt.Errorf("create user %q: %w", username, err)
			}
			fmt.Printf("created user %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("password")
	return cmd
}

func deleteCmd() *cobra.Command {
	var tokenPath string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a token with its files and directory, regardless of expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			reaper := cleanup.NewReaper(a.store, a.writes, a.root)
			n, err := reaper.DeleteToken(context.Background(), tokenPath)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d files for token %s\n", n, tokenPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tokenPath, "token", "t", "", "token path")
	cmd.MarkFlagRequired("token")
	return cmd
}

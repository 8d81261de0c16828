package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, r *session.Registry) error {
				sums, err := r.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tUPDATED\tPROMPT")
				for _, s := range sums {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Name, s.UpdatedAt.Format(time.DateTime), s.Prompt)
				}
				return tw.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, r *session.Registry) error {
				return r.Delete(ctx, args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <id> <file>",
		Short: "Write a session archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(ctx context.Context, r *session.Registry) error {
				f, err := os.Create(args[1])
				if err != nil {
					return err
				}
				if err := r.Export(ctx, args[0], f); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Restore a session from an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withRegistry(cmd.Context(), func(ctx context.Context, r *session.Registry) error {
				sess, err := r.Import(ctx, data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
				return nil
			})
		},
	})
	return cmd
}

// withRegistry は生成を伴わない管理系コマンド用に、ストアだけを開いたレジストリを用意します。
func withRegistry(ctx context.Context, fn func(context.Context, *session.Registry) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(os.Stderr, cfg.LogLevel, false, nil)
	cat, err := relationship.LoadCatalog()
	if err != nil {
		return err
	}
	st, err := cfg.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	r := session.NewRegistry(st, nil, cat, session.Options{PoseDwell: cfg.PoseDwell, IdleAfter: cfg.IdleAfter})
	if err := fn(ctx, r); err != nil {
		r.Close(context.Background())
		return err
	}
	return r.Close(context.Background())
}

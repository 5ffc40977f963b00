package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// authed wraps RunE so the command needs a live session.
func (a *app) authed(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.requireSession(cmd.Context()); err != nil {
			return err
		}
		return run(cmd, args)
	}
}

func (a *app) categoriesCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "categories",
		Aliases: []string{"category"},
		Short:   "List payment categories",
		Args:    cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			if refresh {
				a.api.InvalidateLookups()
			}
			cats, err := a.api.Categories(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(cats))
			for _, c := range cats {
				rows = append(rows, []string{c.ID.String(), c.Name, c.Description})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Description"}, rows)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the local cache")
	cmd.AddCommand(a.categoryAddCmd(), a.categoryDeleteCmd())
	return cmd
}

func (a *app) categoryAddCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a category (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			c, err := a.api.CreateCategory(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Created category %s (%s)", c.Name, c.ID)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "category description")
	return cmd
}

func (a *app) categoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an unused category (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: a.authed(func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid category id %q", args[0])
			}
			if err := a.api.DeleteCategory(cmd.Context(), id); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Deleted category %s", id)
			return nil
		}),
	}
}

func (a *app) methodsCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:     "methods",
		Aliases: []string{"payment-methods"},
		Short:   "List active payment methods",
		Args:    cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			if refresh {
				a.api.InvalidateLookups()
			}
			methods, err := a.api.PaymentMethods(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(methods))
			for _, m := range methods {
				rows = append(rows, []string{m.ID.String(), m.Name, m.Code})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Code"}, rows)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the local cache")
	return cmd
}

func (a *app) dashboardCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show totals, the monthly chart and recent payments",
		Args:  cobra.NoArgs,
		RunE: a.authed(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			stats, err := a.api.DashboardStats(ctx)
			if err != nil {
				return err
			}
			field(w, "Payments", stats.TotalPayments)
			field(w, "Completed", stats.CompletedCount)
			field(w, "Pending", stats.PendingCount)
			field(w, "Total completed", stats.TotalAmount)

			months, err := a.api.MonthlyStats(ctx, year)
			if err != nil {
				return err
			}
			if len(months) > 0 {
				rows := make([][]string, 0, len(months))
				for _, m := range months {
					rows = append(rows, []string{m.Month, strconv.Itoa(m.Count), m.TotalAmount.String()})
				}
				fmt.Fprintln(w)
				renderTable(w, []string{"Month", "Count", "Total"}, rows)
			}

			recent, err := a.api.RecentPayments(ctx)
			if err != nil {
				return err
			}
			if len(recent) > 0 {
				fmt.Fprintln(w)
				renderTable(w, paymentHeaders, paymentRows(recent))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&year, "year", 0, "chart year (default: current year)")
	return cmd
}

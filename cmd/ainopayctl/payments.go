package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ainopay/internal/client"
	"ainopay/internal/core"
)

func (a *app) paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "payments",
		Aliases: []string{"payment", "pay"},
		Short:   "List, create, edit and export payments",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd); err != nil {
				return err
			}
			return a.requireSession(cmd.Context())
		},
	}
	cmd.AddCommand(
		a.paymentsListCmd(),
		a.paymentsGetCmd(),
		a.paymentsCreateCmd(),
		a.paymentsUpdateCmd(),
		a.paymentsDeleteCmd(),
		a.paymentsExportCmd(),
	)
	return cmd
}

func addFilterFlags(cmd *cobra.Command, o *client.ListOptions) {
	f := cmd.Flags()
	f.StringVar(&o.Status, "status", "", "pending, completed, failed or refunded")
	f.StringVarP(&o.Search, "search", "s", "", "match description, category or method")
	f.StringVar(&o.MinAmount, "min", "", "minimum amount")
	f.StringVar(&o.MaxAmount, "max", "", "maximum amount")
	f.StringVar(&o.StartDate, "from", "", "first transaction date, YYYY-MM-DD")
	f.StringVar(&o.EndDate, "to", "", "last transaction date, YYYY-MM-DD")
}

func (a *app) paymentsListCmd() *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, err := a.api.ListPayments(cmd.Context(), opts)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(page.Payments) == 0 {
				fmt.Fprintln(w, "No payments found.")
				return nil
			}
			renderTable(w, paymentHeaders, paymentRows(page.Payments))
			pages := (page.Total + page.Limit - 1) / max(page.Limit, 1)
			fmt.Fprintf(w, "Page %d of %d, %d payments\n", page.Page, pages, page.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "payments per page, at most 100")
	addFilterFlags(cmd, &opts)
	return cmd
}

func parseIDArg(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid payment id %q", s)
	}
	return id, nil
}

func (a *app) paymentsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			p, err := a.api.GetPayment(cmd.Context(), id)
			if err != nil {
				return err
			}
			printPayment(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

// paymentFlags are the editable fields of a payment as typed on the command
// line. Category and method accept an id or a name.
type paymentFlags struct {
	amount      string
	category    string
	method      string
	description string
	date        string
	status      string
}

func (pf *paymentFlags) register(cmd *cobra.Command, withStatus bool) {
	f := cmd.Flags()
	f.StringVarP(&pf.amount, "amount", "a", "", "amount, e.g. 12.50 or 12,50")
	f.StringVarP(&pf.category, "category", "c", "", "category name or id")
	f.StringVarP(&pf.method, "method", "m", "", "payment method name, code or id")
	f.StringVarP(&pf.description, "description", "d", "", "what the payment was for")
	f.StringVar(&pf.date, "date", "", "transaction date, YYYY-MM-DD or RFC 3339")
	if withStatus {
		f.StringVar(&pf.status, "status", "", "pending, completed, failed or refunded")
	}
}

// apply overlays the flags that were set on req.
func (a *app) apply(ctx context.Context, cmd *cobra.Command, pf *paymentFlags, req *client.PaymentRequest) error {
	changed := cmd.Flags().Changed
	if changed("amount") {
		cents, err := core.ParseDecimalToCents(pf.amount)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", pf.amount, err)
		}
		req.Amount = core.Money{Cents: cents}
	}
	if changed("category") {
		id, err := a.resolveCategory(ctx, pf.category)
		if err != nil {
			return err
		}
		req.CategoryID = id
	}
	if changed("method") {
		id, err := a.resolveMethod(ctx, pf.method)
		if err != nil {
			return err
		}
		req.PaymentMethodID = id
	}
	if changed("description") {
		req.Description = pf.description
	}
	if changed("date") {
		req.TransactionDate = pf.date
	}
	if changed("status") {
		if _, err := core.ParsePaymentStatus(pf.status); err != nil {
			return fmt.Errorf("invalid status %q", pf.status)
		}
		req.Status = pf.status
	}
	return nil
}

func (a *app) resolveCategory(ctx context.Context, s string) (uuid.UUID, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id, nil
	}
	cats, err := a.api.Categories(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, s) {
			return c.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("unknown category %q (see 'ainopayctl categories')", s)
}

func (a *app) resolveMethod(ctx context.Context, s string) (uuid.UUID, error) {
	if id, err := uuid.Parse(s); err == nil {
		return id, nil
	}
	methods, err := a.api.PaymentMethods(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	for _, m := range methods {
		if strings.EqualFold(m.Name, s) || strings.EqualFold(m.Code, s) {
			return m.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("unknown payment method %q (see 'ainopayctl methods')", s)
}

func (a *app) paymentsCreateCmd() *cobra.Command {
	var pf paymentFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a new payment; it starts out pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var req client.PaymentRequest
			if err := a.apply(ctx, cmd, &pf, &req); err != nil {
				return err
			}
			p, err := a.api.CreatePayment(ctx, req)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Created payment %s", p.ID)
			printPayment(cmd.OutOrStdout(), p)
			return nil
		},
	}
	pf.register(cmd, false)
	for _, name := range []string{"amount", "category", "method", "description", "date"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) paymentsUpdateCmd() *cobra.Command {
	var pf paymentFlags
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a payment; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			cur, err := a.api.GetPayment(ctx, id)
			if err != nil {
				return err
			}
			req := client.PaymentRequest{
				Amount:          cur.Amount,
				Status:          string(cur.Status),
				CategoryID:      cur.CategoryID,
				PaymentMethodID: cur.PaymentMethodID,
				Description:     cur.Description,
				TransactionDate: cur.TransactionDate.Format(time.RFC3339),
			}
			if err := a.apply(ctx, cmd, &pf, &req); err != nil {
				return err
			}
			p, err := a.api.UpdatePayment(ctx, id, req)
			if err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Updated payment %s", p.ID)
			printPayment(cmd.OutOrStdout(), p)
			return nil
		},
	}
	pf.register(cmd, true)
	return cmd
}

func (a *app) paymentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args[0])
			if err != nil {
				return err
			}
			if err := a.api.DeletePayment(cmd.Context(), id); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), "Deleted payment %s", id)
			return nil
		},
	}
}

func (a *app) paymentsExportCmd() *cobra.Command {
	var (
		opts   client.ListOptions
		output string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download matching payments as CSV",
		Long: `Download every payment matching the filters as CSV.

The file is named payments-YYYY-MM-DD.csv in the current directory unless
--output is given; use --output - to write to stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "-" {
				_, _, err := a.api.ExportPayments(cmd.Context(), opts, cmd.OutOrStdout())
				return err
			}
			return a.exportToFile(cmd, opts, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	addFilterFlags(cmd, &opts)
	return cmd
}

func (a *app) exportToFile(cmd *cobra.Command, opts client.ListOptions, output string) error {
	name := output
	if name == "" {
		name = client.ExportFilename(a.now())
	}
	f, err := os.CreateTemp(filepath.Dir(name), ".export-*.csv")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(f.Name())

	_, n, err := a.api.ExportPayments(cmd.Context(), opts, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(f.Name(), name); err != nil {
		return fmt.Errorf("save export: %w", err)
	}
	success(cmd.OutOrStdout(), "Exported %s (%d bytes)", name, n)
	return nil
}

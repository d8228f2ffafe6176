package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"laby-backend/internal/equipment_mgmt/inventory"
	"laby-backend/internal/equipment_mgmt/reports"
	"laby-backend/internal/platform/auth"
	"laby-backend/internal/platform/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := db.Migrate(cmd.Context(), a.conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newUserAddCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "useradd <id>",
		Short: "Create an approved account (password from LABY_NEW_PASSWORD or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			pw, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			svc := auth.NewService(auth.NewStore(a.conn), []byte(a.cfg.Auth.JWTSecret), a.cfg.Auth.TokenTTL)
			acc, err := svc.CreateAccount(cmd.Context(), args[0], pw, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", acc.ID, acc.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleAdmin), "Admin | Staff | Viewer")
	return cmd
}

func readPassword(in io.Reader) (string, error) {
	if pw := os.Getenv("LABY_NEW_PASSWORD"); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("empty password")
	}
	return pw, nil
}

func newOverdueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "overdue",
		Short: "List loans past their due date",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := a.inventory()
			loans, err := svc.OverdueLoans(cmd.Context(), operator)
			if err != nil {
				return err
			}
			renderOverdue(cmd.OutOrStdout(), loans, svc.Today())
			return nil
		},
	}
}

func renderOverdue(w io.Writer, loans []inventory.Loan, today time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Loan", "User", "Equipment", "Qty", "Due", "Days late", "Collected"})
	for _, l := range loans {
		due, late := "", 0
		if l.DueDate != nil {
			due = l.DueDate.Format(inventory.DateLayout)
			late = int(today.Sub(*l.DueDate).Hours() / 24)
		}
		t.AppendRow(table.Row{l.ID, l.UserID, l.EquipmentName, l.QuantityUsed, due, late, l.CollectedBy != nil})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(loans)})
	t.Render()
}

func newExportCmd(a *app) *cobra.Command {
	var (
		encoding string
		out      string
		userID   string
		openOnly bool
	)
	cmd := &cobra.Command{
		Use:       "export <loans|overdue|movements>",
		Short:     "Write a CSV report",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"loans", "overdue", "movements"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enc, err := reports.ParseEncoding(encoding)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			exp := reports.NewExporter(a.inventory())
			ctx := cmd.Context()
			switch args[0] {
			case "loans":
				err = exp.WriteLoans(ctx, operator, w, enc, inventory.LoanQuery{UserID: userID, OpenOnly: openOnly})
			case "overdue":
				err = exp.WriteOverdue(ctx, operator, w, enc)
			case "movements":
				err = exp.WriteMovements(ctx, operator, w, enc, inventory.MovementFilter{})
			}
			if err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", out, enc)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", "utf8", "utf8 | utf8bom | sjis")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&userID, "user", "", "loans: filter by user id")
	cmd.Flags().BoolVar(&openOnly, "open", false, "loans: only loans not yet returned")
	return cmd
}

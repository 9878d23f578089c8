package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "history <table> <id>",
		Short:   "List audit entries for one record, newest first",
		Example: "  hospitalctl audit history lotes 3f6c...",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect()
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := audit.NewRepository(e.db).ListByRecord(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), entries)
		},
	})

	return cmd
}

func printHistory(out io.Writer, entries []*audit.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no audit entries")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tACTION\tOUTCOME\tUSER\tDESCRIPTION")
	for _, e := range entries {
		user := "sistema"
		if e.UsuarioNombre != nil {
			user = *e.UsuarioNombre
		} else if e.UsuarioID != nil {
			user = *e.UsuarioID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.FechaHora.Format("2006-01-02 15:04:05"), e.Accion, e.Estado, user, e.Descripcion)
	}
	return w.Flush()
}

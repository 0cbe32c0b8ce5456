package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jetbuild/jetbuild/internal/errors"
)

func errorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors [code]",
		Short: "Explain error codes",
		Long: `List every error code jetbuild reports, or explain one of them.

Examples:
  jetbuild errors
  jetbuild errors E204`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listErrorCodes(cmd.OutOrStdout())
			}
			return explainErrorCode(cmd.OutOrStdout(), args[0])
		},
	}
}

func listErrorCodes(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tCATEGORY\tMESSAGE")
	for _, code := range errors.GetAllCodes() {
		t, _ := errors.GetTemplate(code)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", code, t.Category, t.Message)
	}
	return tw.Flush()
}

func explainErrorCode(w io.Writer, code string) error {
	code = strings.ToUpper(code)
	t, ok := errors.GetTemplate(code)
	if !ok {
		return errors.New("E210").
			WithDetail("Unknown error code " + code).
			WithSuggestion("Run jetbuild errors to list the known codes")
	}

	fmt.Fprintf(w, "%s: %s (%s)\n\n", code, t.Message, t.Category)
	fmt.Fprintf(w, "%s\n", t.Detail)
	if t.DocURL != "" {
		fmt.Fprintf(w, "\nSee %s\n", t.DocURL)
	}
	return nil
}

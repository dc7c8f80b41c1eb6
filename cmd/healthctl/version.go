package main

import (
	"fmt"

	"github.com/spf13/cobra"

	v "github.com/keithlinneman/linnemanlabs-healthchecks/internal/version"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.out, v.Get().String())
		},
	}
}

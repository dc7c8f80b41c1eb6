package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProbesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "probes",
		Short: "List the probes the current settings would register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, closeFn, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			for _, k := range reg.Keys() {
				fmt.Fprintln(a.out, k)
			}
			return nil
		},
	}
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// errClosureDrift 表示闭包索引与 parent_id 推导结果不一致。
var errClosureDrift = errors.New("closure index does not match the parent links")

func newVerifyClosureCmd(open treeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-closure",
		Short: "Compare the closure index with a brute-force derivation from parent links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := open()
			if err != nil {
				return err
			}
			report, err := tree.VerifyClosure(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "expected %d rows, found %d\n", report.Expected, report.Actual)
			if report.OK() {
				fmt.Fprintln(out, "closure index OK")
				return nil
			}
			fmt.Fprintf(out, "missing: %d, extra: %d, wrong depth: %d\n",
				len(report.Missing), len(report.Extra), len(report.WrongDepth))
			for _, p := range report.Missing {
				fmt.Fprintf(out, "  missing %d -> %d (depth %d)\n", p.AncestorID, p.DescendantID, p.Depth)
			}
			for _, p := range report.Extra {
				fmt.Fprintf(out, "  extra   %d -> %d (depth %d)\n", p.AncestorID, p.DescendantID, p.Depth)
			}
			for _, p := range report.WrongDepth {
				fmt.Fprintf(out, "  depth   %d -> %d (stored %d)\n", p.AncestorID, p.DescendantID, p.Depth)
			}
			return errClosureDrift
		},
	}
}

func newRebuildClosureCmd(open treeOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-closure",
		Short: "Recompute every closure row from parent links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := open()
			if err != nil {
				return err
			}
			n, err := tree.RebuildClosure(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d closure rows\n", n)
			return nil
		},
	}
}

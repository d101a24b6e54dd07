package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"variantenbaum-go/internal/importer"
)

func newImportCmd(open treeOpener) *cobra.Command {
	var parentID uint

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a nested node tree from a JSON file",
		Long: "Imports a JSON object or array of nodes with nested \"children\".\n" +
			"Without --parent the top-level nodes become new product families.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := open()
			if err != nil {
				return err
			}
			var parent *uint
			if cmd.Flags().Changed("parent") {
				parent = &parentID
			}
			n, err := importer.New(tree).ImportFile(cmd.Context(), args[0], parent)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d node(s)\n", n)
			return err
		},
	}
	cmd.Flags().UintVar(&parentID, "parent", 0, "attach the imported nodes below this node id")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scigolib/h5trim"
	"github.com/scigolib/h5trim/internal/listing"
)

var lsCmd = &cobra.Command{
	Use:   "ls FILE [PATH]",
	Short: "List the objects of an HDF5 file",
	Long: `ls prints one line per object below PATH (default /) in walk order:
groups, datasets with their shape, type, layout and filters, and links.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

func init() {
	lsCmd.Flags().Bool("yaml", false, "print the listing as YAML")
	lsCmd.Flags().Bool("attrs", false, "list attributes under each object")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	f, err := h5trim.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	path := "/"
	if len(args) == 2 {
		path = args[1]
	}
	entries, err := listing.Tree(f, path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		data, err := listing.YAML(entries)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
	attrs, _ := cmd.Flags().GetBool("attrs")
	_, err = fmt.Fprint(out, listing.Text(entries, attrs))
	return err
}

package main

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/scigolib/h5trim"
	"github.com/scigolib/h5trim/extract"
	"github.com/scigolib/h5trim/internal/listing"
)

// errMismatch is returned after the differences have been printed.
var errMismatch = errors.New("output does not match input")

var verifyCmd = &cobra.Command{
	Use:   "verify INPUT OUTPUT",
	Short: "Check that OUTPUT holds exactly the planned content of INPUT",
	Long: `verify lists the root attributes, the configuration subtree and every
planned table of both files, including a digest of each table's data, and
prints a line diff when the listings differ.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	plan, err := loadPlan()
	if err != nil {
		return err
	}
	want, err := summarize(args[0], plan)
	if err != nil {
		return err
	}
	got, err := summarize(args[1], plan)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if want == got {
		fmt.Fprintf(out, "%s matches %s\n", args[1], args[0])
		return nil
	}
	fmt.Fprintf(out, "--- %s\n+++ %s\n", args[0], args[1])
	writeLineDiff(out, want, got)
	return errMismatch
}

// summarize renders the planned part of a file as text.
func summarize(path string, plan extract.Plan) (string, error) {
	f, err := h5trim.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	var b strings.Builder
	root, err := listing.Describe(f.Root())
	if err != nil {
		return "", err
	}
	b.WriteString(listing.Text([]listing.Entry{root}, true))

	config, err := listing.Tree(f, plan.Configuration)
	if err != nil {
		return "", err
	}
	b.WriteString(listing.Text(config, true))

	for _, table := range plan.Tables {
		obj, err := f.Get(table)
		if err != nil {
			return "", err
		}
		e, err := listing.Describe(obj)
		if err != nil {
			return "", err
		}
		b.WriteString(listing.Text([]listing.Entry{e}, true))
		if ds, ok := obj.(*h5trim.Dataset); ok {
			raw, err := ds.ReadRaw()
			if err != nil {
				return "", fmt.Errorf("%s: %w", table, err)
			}
			fmt.Fprintf(&b, "  sha256=%x\n", sha256.Sum256(raw))
		}
	}
	return b.String(), nil
}

func writeLineDiff(w io.Writer, want, got string) {
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(want, got)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	removed := color.New(color.FgRed)
	added := color.New(color.FgGreen)
	for _, d := range diffs {
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			switch d.Type {
			case diffpatch.DiffDelete:
				removed.Fprint(w, "-"+line)
			case diffpatch.DiffInsert:
				added.Fprint(w, "+"+line)
			case diffpatch.DiffEqual:
				fmt.Fprint(w, " "+line)
			}
		}
	}
}

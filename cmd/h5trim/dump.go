package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const dumpRowSize = 16

var dumpCmd = &cobra.Command{
	Use:   "dump FILE",
	Short: "Hex dump a byte range of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().Int64("offset", 0, "offset in the file to start dumping from")
	dumpCmd.Flags().Int("length", 128, "number of bytes to dump")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	offset, _ := cmd.Flags().GetInt64("offset")
	length, _ := cmd.Flags().GetInt("length")

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if offset < 0 || offset >= size {
		return fmt.Errorf("invalid offset %d (file size %d)", offset, size)
	}
	if length < 1 {
		return fmt.Errorf("invalid length %d", length)
	}

	n := int64(length)
	if remaining := size - offset; n > remaining {
		logger.Warnf("requested length %d exceeds the %d bytes available", length, remaining)
		n = remaining
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return fmt.Errorf("read %s at %d: %w", args[0], offset, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d bytes at offset 0x%x of %s (size %d):\n", n, offset, args[0], size)
	hexDump(out, buf, offset)
	return nil
}

// hexDump writes buf as rows of 16 bytes labelled with their file offset,
// followed by the printable ASCII characters.
func hexDump(w io.Writer, buf []byte, offset int64) {
	for i := 0; i < len(buf); i += dumpRowSize {
		row := buf[i:min(i+dumpRowSize, len(buf))]

		fmt.Fprintf(w, "%08x: ", offset+int64(i))
		for j := 0; j < dumpRowSize; j++ {
			if j < len(row) {
				fmt.Fprintf(w, "%02x ", row[j])
			} else {
				fmt.Fprint(w, "   ")
			}
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}

		ascii := make([]byte, len(row))
		for j, b := range row {
			if b >= 32 && b <= 126 {
				ascii[j] = b
			} else {
				ascii[j] = '.'
			}
		}
		fmt.Fprintf(w, " |%s|\n", ascii)
	}
}

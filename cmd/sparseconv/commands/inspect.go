package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/born-ml/sparseconv/internal/serialization"
	"github.com/born-ml/sparseconv/internal/sparse"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Print a summary of a sparse tensor file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := serialization.ReadSparse(args[0])
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), args[0], x)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func printSummary(w io.Writer, name string, x *sparse.Tensor) {
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  shape:         %v\n", x.Shape())
	fmt.Fprintf(w, "  active sites:  %d\n", x.NumActive())
	fmt.Fprintf(w, "  dtype:         %s\n", x.Feats().DType())
	fmt.Fprintf(w, "  spatial shape: %v\n", x.Data().SpatialShape)
	fmt.Fprintf(w, "  scale:         %v\n", x.Scale())

	layout := x.Layout()
	if layout == nil {
		fmt.Fprintf(w, "  layout:        unordered\n")
		return
	}
	for b, span := range layout {
		fmt.Fprintf(w, "  batch %d:       rows [%d, %d) (%d)\n", b, span.Start, span.End, span.Len())
	}
}

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/born-ml/sparseconv/internal/backend/cpu"
	"github.com/born-ml/sparseconv/internal/logging"
	"github.com/born-ml/sparseconv/internal/nn"
	"github.com/born-ml/sparseconv/internal/serialization"
	"github.com/born-ml/sparseconv/internal/sparse"
	"github.com/born-ml/sparseconv/internal/spconv"
)

var (
	runOpts   genOptions
	runStride int
	runHidden int
	runOut    string

	runWeights     string
	runSaveWeights string
)

var runCmd = &cobra.Command{
	Use:   "run [FILE]",
	Short: "Run a down/up sparse convolution pass",
	Long: `Run the input through a submanifold conv, a strided conv, a second
submanifold conv and the paired inverse conv, printing the scale and active
rows after each stage. Without FILE a random tensor is generated from the
generator flags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runStride < 2 {
			return fmt.Errorf("--stride must be at least 2, got %d", runStride)
		}
		var x *sparse.Tensor
		var err error
		if len(args) == 1 {
			x, err = serialization.ReadSparse(args[0])
		} else {
			x, err = randomTensor(runOpts)
		}
		if err != nil {
			return err
		}

		y, err := runUNet(cmd.Context(), cmd.OutOrStdout(), x, spconv.Uniform(runStride), runHidden)
		if err != nil {
			return err
		}
		if runOut != "" {
			return serialization.WriteSparse(runOut, y)
		}
		return nil
	},
}

func init() {
	addGenFlags(runCmd, &runOpts)
	runCmd.Flags().IntVar(&runStride, "stride", 2, "downsampling stride")
	runCmd.Flags().IntVar(&runHidden, "hidden", 8, "hidden channels")
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "write the result to this file")
	runCmd.Flags().StringVar(&runWeights, "weights", "", "load layer weights from this file")
	runCmd.Flags().StringVar(&runSaveWeights, "save-weights", "", "write the layer weights to this file")
	rootCmd.AddCommand(runCmd)
}

// runUNet builds and runs subm -> down -> subm -> up on x.
func runUNet(ctx context.Context, w io.Writer, x *sparse.Tensor, stride spconv.Triple, hidden int) (*sparse.Tensor, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logging.WithComponent("run")
	backend := cpu.New(
		cpu.WithParallel(cfg.ParallelConfig()),
		cpu.WithLogger(logging.WithComponent("backend")),
	)
	opts := nn.Options{Verify: cfg.Debug, Logger: logging.WithComponent("nn")}
	algo := cfg.ConvAlgo()
	in := x.Shape()[1]

	subm0, err := nn.NewSparseConv3D(nn.Conv3DConfig{
		InChannels: in, OutChannels: hidden, KernelSize: spconv.Uniform(3),
		Bias: true, IndiceKey: "subm0", Algo: algo,
	}, backend, opts)
	if err != nil {
		return nil, err
	}
	down, err := nn.NewSparseConv3D(nn.Conv3DConfig{
		InChannels: hidden, OutChannels: 2 * hidden, KernelSize: stride, Stride: stride,
		Bias: true, IndiceKey: "down0", Algo: algo,
	}, backend, opts)
	if err != nil {
		return nil, err
	}
	subm1, err := nn.NewSparseConv3D(nn.Conv3DConfig{
		InChannels: 2 * hidden, OutChannels: 2 * hidden, KernelSize: spconv.Uniform(3),
		Bias: true, IndiceKey: "subm1", Algo: algo,
	}, backend, opts)
	if err != nil {
		return nil, err
	}
	up, err := nn.NewSparseInverseConv3D(nn.InverseConv3DConfig{
		InChannels: 2 * hidden, OutChannels: in, KernelSize: stride, Stride: stride,
		Bias: true, IndiceKey: "down0", Algo: algo,
	}, backend, opts)
	if err != nil {
		return nil, err
	}

	stages := []struct {
		name   string
		module nn.Module
	}{
		{"subm0", subm0},
		{"relu", nn.NewReLU()},
		{"down", down},
		{"subm1", subm1},
		{"relu", nn.NewReLU()},
		{"up", up},
	}

	model := nn.NewSequential()
	for _, s := range stages {
		model.Add(s.module)
	}
	if runWeights != "" {
		if err := nn.LoadWeights(runWeights, model); err != nil {
			return nil, fmt.Errorf("load weights: %w", err)
		}
	}
	if runSaveWeights != "" {
		if err := nn.SaveWeights(runSaveWeights, model); err != nil {
			return nil, fmt.Errorf("save weights: %w", err)
		}
	}

	log.WithFields(logrus.Fields{
		"layers": model.Len(),
		"params": len(model.Parameters()),
	}).Debug("model built")

	fmt.Fprintf(w, "%-6s scale=%v rows=%d channels=%d\n", "input", x.Scale(), x.NumActive(), x.Shape()[1])
	out := x
	for i := 0; i < model.Len(); i++ {
		name := stages[i].name
		out, err = model.Module(i).Forward(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fmt.Fprintf(w, "%-6s scale=%v rows=%d channels=%d\n", name, out.Scale(), out.NumActive(), out.Shape()[1])
	}

	log.WithField("cacheEntries", out.SpatialCache().Len()).Debug("pass complete")
	return out, nil
}

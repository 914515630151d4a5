package cli

import (
	"fmt"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/spf13/cobra"
)

func listCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured stages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			defer client.Close()

			stages, err := client.ListStages(cmd.Context())
			if err != nil {
				return err
			}
			if len(stages) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No stages loaded.")
				return nil
			}
			for i := range stages {
				printProperties(cmd.OutOrStdout(), &stages[i])
			}
			return nil
		},
	}
}

func positionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "position STAGE",
		Short: "Show position, moving flag and axis inversion of a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			defer client.Close()

			props, err := client.GetStage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printProperties(cmd.OutOrStdout(), props)
			return nil
		},
	}
}

// moveCmd builds move-rel or move-abs.
func moveCmd(opts *globalOptions, use string) *cobra.Command {
	var (
		sequence          []float64
		blockCancellation bool
	)

	kind := stage.MoveRelative
	short := "Move a stage by the given steps"
	if use == "move-abs" {
		kind = stage.MoveAbsolute
		short = "Move a stage to the given position"
	}

	cmd := &cobra.Command{
		Use:   use + " STAGE [AXIS=STEPS ...]",
		Short: short,
		Example: fmt.Sprintf(`  stagectl %[1]s sim x=100 z=-20
  stagectl %[1]s sim --seq 100,0,-20`, use),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var position map[string]float64
			switch {
			case len(args) > 1 && sequence != nil:
				return fmt.Errorf("give either AXIS=STEPS arguments or --seq, not both")
			case len(args) > 1:
				var err error
				if position, err = parseAxisArgs(args[1:]); err != nil {
					return err
				}
			case sequence == nil:
				return fmt.Errorf("nothing to move: give AXIS=STEPS arguments or --seq")
			}

			client := opts.client()
			defer client.Close()

			props, err := client.Move(cmd.Context(), args[0], kind, position, sequence, blockCancellation)
			if err != nil {
				return err
			}
			printProperties(cmd.OutOrStdout(), props)
			return nil
		},
	}

	cmd.Flags().Float64SliceVar(&sequence, "seq", nil, "values for every axis in axis order")
	cmd.Flags().BoolVar(&blockCancellation, "block-cancellation", false, "ask the driver not to abort the move on cancellation")
	return cmd
}

func invertCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invert STAGE AXIS",
		Short: "Flip the direction of one axis (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			defer client.Close()

			props, err := client.InvertAxis(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			printProperties(cmd.OutOrStdout(), props)
			return nil
		},
	}
}

func zeroCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "zero STAGE",
		Short: "Declare the current position as zero (technician)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			defer client.Close()

			props, err := client.SetZero(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printProperties(cmd.OutOrStdout(), props)
			return nil
		},
	}
}

func xyzCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "xyz STAGE [-- X Y Z]",
		Short: "Show the xyz position, or move to one",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 4 {
				return fmt.Errorf("expected STAGE or STAGE X Y Z, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			defer client.Close()

			var (
				xyz [3]int
				err error
			)
			if len(args) == 1 {
				xyz, err = client.GetXYZ(cmd.Context(), args[0])
			} else {
				var values []float64
				if values, err = parseNumbers(args[1:]); err != nil {
					return err
				}
				xyz, err = client.MoveToXYZ(cmd.Context(), args[0], [3]float64{values[0], values[1], values[2]})
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s x=%d y=%d z=%d\n", nameColor.Sprint(args[0]), xyz[0], xyz[1], xyz[2])
			return nil
		},
	}
}

func movesCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "moves STAGE",
		Short: "Show the most recent hardware commands of a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			defer client.Close()

			moves, err := client.ListMoves(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range moves {
				line := fmt.Sprintf("%s %-8s %s -> %s",
					m.StartedAt.Local().Format("2006-01-02 15:04:05"),
					m.Kind,
					formatPosition(m.Requested),
					formatPosition(m.Result))
				if m.Error != "" {
					line += " " + errorColor.Sprint(m.Error)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries")
	return cmd
}

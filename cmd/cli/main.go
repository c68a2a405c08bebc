package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.viam.com/rdk/logging"
	"golang.org/x/sync/errgroup"

	om "open_manipulator"
)

var (
	debug    bool
	interval time.Duration
	duration time.Duration
	target   []float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "om-cli",
		Short: "inspect and run manipulator chains",
	}
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")

	checkCmd := &cobra.Command{
		Use:   "check [config]",
		Short: "build the chain described by a config and print it",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}

	runCmd := &cobra.Command{
		Use:   "run [config]",
		Short: "run a simulated session and print the end effector pose",
		Args:  cobra.ExactArgs(1),
		RunE:  runSession,
	}
	runCmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "print interval")
	runCmd.Flags().DurationVar(&duration, "time", 0, "stop after this long (0 runs until interrupted)")
	runCmd.Flags().Float64SliceVar(&target, "target", nil, "joint angles in radians, ordered by actuator id")

	initCmd := &cobra.Command{
		Use:   "init [chain file]",
		Short: "write the default two-joint chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := om.SaveChainToFile(args[0], om.DefaultChainConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}

	rootCmd.AddCommand(checkCmd, runCmd, initCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() logging.Logger {
	if debug {
		return logging.NewDebugLogger("om-cli")
	}
	return logging.NewLogger("om-cli")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := om.LoadConfig(args[0])
	if err != nil {
		return err
	}
	chain, err := cfg.LoadChain()
	if err != nil {
		return err
	}
	m, err := om.BuildManipulator(chain, newLogger())
	if err != nil {
		return err
	}

	world, err := m.WorldName()
	if err != nil {
		return err
	}
	fmt.Printf("world %s: %d components, %d dof\n", world, m.ComponentSize(), m.DOF())

	components := m.AllComponents()
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, string(name))
	}
	sort.Strings(names)
	for _, name := range names {
		c := components[om.Name(name)]
		kind := "fixed"
		switch {
		case c.Tool != nil:
			kind = fmt.Sprintf("tool %d", c.Tool.ID)
		case c.Joint != nil:
			kind = fmt.Sprintf("joint %d", c.Joint.ID)
		}
		p, err := m.ComponentPositionToWorld(c.Name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-12s parent=%-12s %-8s at [%.4f %.4f %.4f]\n", c.Name, c.Parent, kind, p.X, p.Y, p.Z)
	}
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	cfg, err := om.LoadConfig(args[0])
	if err != nil {
		return err
	}
	session, err := om.NewSession(cfg, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	if len(target) > 0 {
		if err := session.MoveTo(target); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	end, err := endEffector(session.Manipulator)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			if err := printPose(session, end); err != nil {
				return err
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	stats := session.Loop.Stats()
	fmt.Printf("%d ticks, %d applied, %d preempted, %d errors\n", stats.Ticks, stats.Applied, stats.Preempted, stats.Errors)
	return nil
}

// endEffector picks the first tool by name, or the world's child when the chain has none.
func endEffector(m *om.Manipulator) (om.Name, error) {
	var tools []string
	for name, c := range m.AllComponents() {
		if c.Tool != nil {
			tools = append(tools, string(name))
		}
	}
	if len(tools) == 0 {
		return m.WorldChildName()
	}
	sort.Strings(tools)
	return om.Name(tools[0]), nil
}

func printPose(session *om.Session, end om.Name) error {
	pose, err := session.Manipulator.ComponentPoseToWorld(end)
	if err != nil {
		return err
	}
	sp, err := pose.Spatialmath()
	if err != nil {
		return err
	}
	ov := sp.Orientation().OrientationVectorDegrees()
	fmt.Printf("%s: pos(mm)=[%.1f %.1f %.1f] ov=[%.3f %.3f %.3f %.1f] joints=%v\n",
		end, sp.Point().X, sp.Point().Y, sp.Point().Z, ov.OX, ov.OY, ov.OZ, ov.Theta,
		session.Manipulator.AllJointAngles())
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/artisanbot/artisan/pkg/kinematics"
	"github.com/artisanbot/artisan/pkg/robot"
	"github.com/artisanbot/artisan/pkg/sequencer"
)

type DemoCommand struct {
	Config string  `long:"config" short:"c" description:"Config file path" default:"artisan.json"`
	Side   string  `long:"side" description:"Which arm grasps" default:"right" choice:"left" choice:"right"`
	X      float64 `long:"x" description:"Target X in meters" default:"0.30"`
	Y      float64 `long:"y" description:"Target Y in meters" default:"0.10"`
	Z      float64 `long:"z" description:"Target Z in meters" default:"-0.05"`
	Yes    bool    `long:"yes" description:"Skip the confirmation prompt"`
}

var (
	stateStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// staticPerception hands out one fixed target every poll. Stands in for a
// camera pipeline during bench runs.
type staticPerception struct {
	target kinematics.Point
}

func (p staticPerception) NextTarget(ctx context.Context) (kinematics.Point, bool, error) {
	return p.target, true, nil
}

func (c *DemoCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfigFrom(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'artisan init' first.")
		os.Exit(1)
	}

	target := kinematics.Point{X: c.X, Y: c.Y, Z: c.Z}

	if !c.Yes {
		var proceed bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("The %s arm will reach to (%.2f, %.2f, %.2f) and grasp. Continue?",
						c.Side, c.X, c.Y, c.Z)).
					Description("Keep the workspace clear.").
					Value(&proceed),
			),
		)
		if err := form.Run(); err != nil || !proceed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	r, err := robot.Open(cfg, logrus.WithField("cmd", "demo"))
	if err != nil {
		return fmt.Errorf("open robot: %w", err)
	}
	defer r.Close()

	fmt.Println("Moving to neutral pose...")
	ctx := context.Background()
	if err := r.Neutral(ctx, time.Second); err != nil {
		return fmt.Errorf("neutral pose: %w", err)
	}
	time.Sleep(time.Second)

	seq, err := r.Sequencer(kinematics.Side(c.Side), staticPerception{target: target})
	if err != nil {
		return err
	}

	// SIGINT aborts, which fires the emergency stop before shutdown.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		seq.Abort()
	}()

	go func() {
		for ch := range seq.States() {
			switch ch.To {
			case sequencer.StateError:
				fmt.Printf("%s %s\n", errStyle.Render(string(ch.To)), ch.Reason)
				seq.Stop()
			case sequencer.StateIdle:
				if ch.From == sequencer.StateLifting {
					fmt.Println(okStyle.Render("Grasp sequence complete."))
					seq.Stop()
				}
			default:
				fmt.Printf("%s %s\n", stateStyle.Render(string(ch.To)), ch.Reason)
			}
		}
	}()

	seq.Start()
	if err := seq.Run(ctx); err != nil {
		return err
	}

	fmt.Println("Returning to neutral pose...")
	return r.Neutral(ctx, time.Second)
}

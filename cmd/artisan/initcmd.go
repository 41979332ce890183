package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/artisanbot/artisan/pkg/robot"
)

type InitCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"artisan.json"`
	Force  bool   `long:"force" description:"Overwrite an existing config without asking"`
}

func (c *InitCommand) Execute(args []string) error {
	if _, err := os.Stat(c.Config); err == nil && !c.Force {
		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%s already exists. Overwrite?", c.Config)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping existing configuration.")
			return nil
		}
	}

	cfg := robot.DefaultConfig()
	if err := cfg.SaveTo(c.Config); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Default configuration written to %s\n", c.Config)
	fmt.Println("Edit the joint table and serial port to match your build.")
	return nil
}

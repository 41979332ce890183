package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sirupsen/logrus"

	"github.com/artisanbot/artisan/pkg/actuator"
	"github.com/artisanbot/artisan/pkg/robot"
)

type InfoCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"artisan.json"`
}

var (
	infoHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	infoDimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	infoWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const hotServoC = 55

func (c *InfoCommand) Execute(args []string) error {
	cfg, err := robot.LoadConfigFrom(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'artisan init' first.")
		os.Exit(1)
	}

	r, err := robot.Open(cfg, logrus.WithField("cmd", "info"))
	if err != nil {
		return fmt.Errorf("open robot: %w", err)
	}
	defer r.Close()

	ctl := r.Controller()
	specs := ctl.Joints()
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	fmt.Println(infoHeaderStyle.Render("Artisan Servo Health"))
	fmt.Println()

	ctx := context.Background()
	rows := make([][]string, 0, len(specs))
	temps := make([]int, 0, len(specs))

	for _, spec := range specs {
		if spec.Kind != actuator.KindSerial {
			continue
		}
		row := []string{string(spec.Name), fmt.Sprintf("%d", spec.ServoID)}

		sample, err := ctl.ReadJointFeedback(ctx, spec.Name)
		if err != nil {
			rows = append(rows, append(row, "-", "-", infoWarnStyle.Render(err.Error())))
			temps = append(temps, 0)
			continue
		}

		pos := fmt.Sprintf("%.1f°", sample.AngleDeg)
		temp := "-"
		if sample.HasTemperature {
			temp = fmt.Sprintf("%d°C", sample.TemperatureC)
		}
		volt := "-"
		if sample.HasVoltage {
			volt = fmt.Sprintf("%.1fV", float64(sample.VoltageMV)/1000)
		}
		rows = append(rows, append(row, pos, temp, volt))
		temps = append(temps, sample.TemperatureC)
	}

	if len(rows) == 0 {
		fmt.Println("No serial bus servos configured; PWM joints have no feedback channel.")
		return nil
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	hotStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(infoDimStyle).
		Headers("Joint", "ID", "Position", "Temp", "Voltage").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 3 && row >= 0 && row < len(temps) && temps[row] >= hotServoC {
				return hotStyle
			}
			return cellStyle
		})

	fmt.Println(t.Render())
	return nil
}

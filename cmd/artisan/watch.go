package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/sirupsen/logrus"

	"github.com/artisanbot/artisan/pkg/kinematics"
	"github.com/artisanbot/artisan/pkg/robot"
	"github.com/artisanbot/artisan/pkg/tactile"
)

type WatchCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"artisan.json"`
	Side   string `long:"side" description:"Which hand to watch" default:"right" choice:"left" choice:"right"`
	Hz     int    `long:"hz" default:"10" description:"Sensor poll frequency"`
}

const (
	watchHeaderHeight = 2
	watchLegendHeight = 2
	watchFooterHeight = 7
	watchMaxLogs      = 5
	watchBorderSize   = 2
)

// Distinct colors per sensor slot.
var sensorColors = []string{"196", "208", "226", "46", "51", "201"}

var (
	watchTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	watchChartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	watchStatusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type readingsMsg []tactile.Reading
type watchLogMsg string

type watchModel struct {
	sensors  []tactile.Sensor
	readings <-chan []tactile.Reading
	logs     <-chan string
	chart    *streamlinechart.Model
	width    int
	height   int
	logLines []string
	hz       int
	quitting bool
}

func (m *watchModel) addLog(msg string) {
	m.logLines = append(m.logLines, msg)
	if len(m.logLines) > watchMaxLogs {
		m.logLines = m.logLines[len(m.logLines)-watchMaxLogs:]
	}
}

func waitForReadings(ch <-chan []tactile.Reading) tea.Cmd {
	return func() tea.Msg {
		return readingsMsg(<-ch)
	}
}

func waitForWatchLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		return watchLogMsg(<-ch)
	}
}

func (m *watchModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = m.width - watchBorderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - watchHeaderHeight - watchLegendHeight - watchFooterHeight - watchBorderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *watchModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialWatchModel(sensors []tactile.Sensor, readings <-chan []tactile.Reading, logs <-chan string, hz int) watchModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, 100),
	)

	for i, s := range sensors {
		color := sensorColors[i%len(sensorColors)]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(s.ID, runes.ThinLineStyle, style)
	}

	return watchModel{
		sensors:  sensors,
		readings: readings,
		logs:     logs,
		chart:    &chart,
		hz:       hz,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		waitForReadings(m.readings),
		waitForWatchLog(m.logs),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case readingsMsg:
		for _, r := range msg {
			m.chart.PushDataSet(r.Sensor, r.Force)
		}
		m.chart.DrawAll()
		return m, waitForReadings(m.readings)

	case watchLogMsg:
		m.addLog(string(msg))
		return m, waitForWatchLog(m.logs)
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.quitting {
		return "Tactile watch stopped.\n"
	}

	var sb strings.Builder

	sb.WriteString(watchTitleStyle.Render("Artisan Tactile Watch"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.hz))
	if m.width > 0 {
		sb.WriteString(watchStatusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(watchChartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logLines) == 0 {
		logLines = watchStatusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logLines, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m watchModel) renderLegend() string {
	var items []string
	for i, s := range m.sensors {
		color := sensorColors[i%len(sensorColors)]
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.ID)
	}
	return strings.Join(items, "  ")
}

// pollInterval clamps the poll rate to at least 1Hz so the ticker interval
// never divides by zero.
func pollInterval(hz int) time.Duration {
	if hz < 1 {
		hz = 1
	}
	return time.Second / time.Duration(hz)
}

func (c *WatchCommand) Execute(args []string) error {
	if c.Hz < 1 {
		c.Hz = 1
	}
	cfg, err := robot.LoadConfigFrom(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'artisan init' first.")
		os.Exit(1)
	}

	r, err := robot.Open(cfg, logrus.WithField("cmd", "watch"))
	if err != nil {
		return fmt.Errorf("open robot: %w", err)
	}
	defer r.Close()

	hand := r.Hand(kinematics.Side(c.Side))
	if hand == nil {
		return fmt.Errorf("no tactile hand configured for %s side", c.Side)
	}

	var sensors []tactile.Sensor
	for _, hc := range cfg.Hands {
		if string(hc.Side) == c.Side {
			sensors = hc.Sensors
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Calibrating baseline, keep the hand open and unloaded...")
	if err := hand.Calibrate(ctx); err != nil {
		return fmt.Errorf("calibrate: %w", err)
	}

	readings := make(chan []tactile.Reading, 4)
	logs := make(chan string, 8)

	go func() {
		ticker := time.NewTicker(pollInterval(c.Hz))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs, err := hand.Readings(ctx)
				if err != nil {
					select {
					case logs <- fmt.Sprintf("read error: %v", err):
					default:
					}
					continue
				}
				select {
				case readings <- rs:
				default:
				}
			}
		}
	}()

	p := tea.NewProgram(initialWatchModel(sensors, readings, logs, c.Hz), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

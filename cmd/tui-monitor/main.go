package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/unklstewy/drop-scope/pkg/config"
	"github.com/unklstewy/drop-scope/pkg/geo"
	"github.com/unklstewy/drop-scope/pkg/release"
	"github.com/unklstewy/drop-scope/pkg/telemetry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	countdownStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("237"))
)

type model struct {
	cfg      *config.Config
	session  *telemetry.Session
	calc     *release.Calculator
	endpoint string

	targets  []config.TargetConfig
	selected int

	snapshot telemetry.Snapshot
	haveSnap bool
	result   *release.Result
	solvedAt time.Time

	err error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tick()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.result = nil
			}
		case "down", "j":
			if m.selected < len(m.targets)-1 {
				m.selected++
				m.result = nil
			}
		}

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	return m, nil
}

// refresh pulls the latest snapshot and recomputes the solution for the
// selected target.
func (m *model) refresh() {
	m.snapshot, m.haveSnap = m.session.LatestSnapshot()
	if !m.haveSnap || len(m.targets) == 0 {
		m.result = nil
		return
	}
	if m.snapshot.Stale {
		// Keep the last solution on screen but do not recompute from old data
		return
	}

	tc := m.targets[m.selected]
	target := geo.Position{Latitude: tc.Latitude, Longitude: tc.Longitude, Altitude: tc.Altitude}

	result := m.calc.CalculateReleasePoint(m.snapshot.Position, target, m.snapshot.Speed)
	m.result = &result
	m.solvedAt = time.Now()
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("DROP-SCOPE RELEASE MONITOR"))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n")
		return s.String()
	}

	s.WriteString(m.renderLink())
	s.WriteString("\n")
	s.WriteString(m.renderTelemetry())
	s.WriteString("\n")
	s.WriteString(m.renderTargets())
	s.WriteString("\n")
	s.WriteString(m.renderSolution())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("↑/↓: Select target  Q: Quit"))
	s.WriteString("\n")

	return s.String()
}

func (m model) renderLink() string {
	status := m.session.CurrentStatus()

	var stateStr string
	switch status.State {
	case telemetry.StateConnected:
		stateStr = okStyle.Render(status.State.String())
	case telemetry.StateStale:
		stateStr = staleStyle.Render(status.State.String())
	default:
		stateStr = errStyle.Render(status.State.String())
	}

	line := fmt.Sprintf("%s %s via %s", headerStyle.Render("Link:"), stateStr, m.endpoint)
	if status.RetryCount > 0 {
		line += warnStyle.Render(fmt.Sprintf("  (%d retries)", status.RetryCount))
	}
	return line + "\n"
}

func (m model) renderTelemetry() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Aircraft"))
	s.WriteString("\n")

	if !m.haveSnap {
		s.WriteString(helpStyle.Render("  Waiting for position and speed data..."))
		s.WriteString("\n")
		return s.String()
	}

	pos := m.snapshot.Position
	spd := m.snapshot.Speed
	age := time.Since(m.snapshot.Timestamp).Round(time.Second)

	s.WriteString(fmt.Sprintf("  Position: %9.4f°, %9.4f°  Alt: %6.0f m\n",
		pos.Latitude, pos.Longitude, pos.Altitude))
	s.WriteString(fmt.Sprintf("  Airspeed: %5.1f m/s  Groundspeed: %5.1f m/s  Wind: %4.1f m/s\n",
		spd.Airspeed, spd.Groundspeed, spd.WindSpeed()))

	ageLine := fmt.Sprintf("  Data age: %s", age)
	if m.snapshot.Stale {
		s.WriteString(staleStyle.Render(ageLine + "  [STALE]"))
	} else {
		s.WriteString(ageLine)
	}
	s.WriteString("\n")
	return s.String()
}

func (m model) renderTargets() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Targets"))
	s.WriteString(fmt.Sprintf(" (%d)\n", len(m.targets)))

	if len(m.targets) == 0 {
		s.WriteString(helpStyle.Render("  No targets configured"))
		s.WriteString("\n")
		return s.String()
	}

	for i, tc := range m.targets {
		prefix := "  "
		if i == m.selected {
			prefix = "→ "
		}
		line := fmt.Sprintf("%s%-16s %9.4f°, %9.4f°  %5.0f m",
			prefix, tc.Name, tc.Latitude, tc.Longitude, tc.Altitude)
		if i == m.selected {
			line = selectedStyle.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}
	return s.String()
}

func (m model) renderSolution() string {
	var s strings.Builder
	s.WriteString(headerStyle.Render("Release Solution"))
	s.WriteString("\n")

	if m.result == nil {
		s.WriteString(helpStyle.Render("  No solution yet"))
		s.WriteString("\n")
		return s.String()
	}

	r := m.result
	if !r.OK() {
		s.WriteString(errStyle.Render(fmt.Sprintf("  %s: %s", r.Code, r.Message)))
		s.WriteString("\n")
	} else {
		sol := r.Solution

		// Count down in real time between solver updates
		countdown := sol.ReleaseTime - time.Since(m.solvedAt).Seconds()
		if countdown < 0 {
			countdown = 0
		}

		s.WriteString(countdownStyle.Render(fmt.Sprintf("  RELEASE IN %5.1f s", countdown)))
		s.WriteString("\n")
		s.WriteString(fmt.Sprintf("  Distance to target: %7.0f m   Bearing: %5.1f°\n",
			sol.TargetDistance, sol.TargetBearing))
		s.WriteString(fmt.Sprintf("  Release point:      %7.0f m before target\n", sol.ReleaseDistance))
		s.WriteString(fmt.Sprintf("  Payload fall time:  %7.1f s   Drop height: %.0f m\n",
			sol.FlightTime, sol.AltitudeDifference))
	}

	for _, w := range r.Warnings {
		s.WriteString(warnStyle.Render("  ⚠ " + w))
		s.WriteString("\n")
	}
	return s.String()
}

func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Open the telemetry link, walking the fallback chain
	ctx := context.Background()
	var session *telemetry.Session
	var endpoint string
	for _, ep := range cfg.Telemetry.Endpoints() {
		sess := telemetry.NewSession(telemetry.Config{
			Endpoint:         ep,
			ConnectTimeout:   cfg.Telemetry.ConnectTimeout(),
			ReceiveTimeout:   cfg.Telemetry.MessageTimeout(),
			FreshnessTimeout: cfg.Telemetry.FreshnessTimeout(),
			Reconnect:        telemetry.Policy{Interval: cfg.Telemetry.ReconnectInterval()},
		})
		if err := sess.Connect(ctx); err != nil {
			log.Printf("Endpoint %s failed: %v", ep, err)
			continue
		}
		session = sess
		endpoint = ep
		break
	}
	if session == nil {
		log.Fatal("No telemetry endpoint reachable")
	}
	defer session.Disconnect()

	// Default selection follows the configured active target
	selected := 0
	for i := range cfg.Targets {
		if cfg.Targets[i].Active {
			selected = i
			break
		}
	}

	m := model{
		cfg:      cfg,
		session:  session,
		endpoint: endpoint,
		calc: release.NewCalculator(
			release.WithLimits(cfg.Solver.Limits),
			release.WithPayload(cfg.Solver.Payload),
		),
		targets:  cfg.Targets,
		selected: selected,
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

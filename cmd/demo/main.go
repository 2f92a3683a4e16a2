// Command demo runs a scripted live-map tour against the in-process engine
// and renders it as a terminal UI.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var shopCount = flag.Int("shops", 800, "number of shops to generate")

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F28F3B")).
			Background(lipgloss.Color("#282A36")).
			Padding(0, 1).
			MarginTop(1).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#8BE9FD"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#50FA7B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6272A4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#BD93F9")).
			Padding(1, 2).
			MarginTop(1)

	statStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFB86C"))
)

type step struct {
	title string
	run   func(*tour) stepStats
}

var steps = []step{
	{"World overview", (*tour).worldView},
	{"Fly into London", (*tour).flyToCity},
	{"Select a shop", (*tour).selectShop},
	{"Flip to dark theme", (*tour).themeFlip},
	{"Expand a neighborhood", (*tour).expandGroup},
}

type stepDoneMsg struct {
	index int
	stats stepStats
}

type tourDoneMsg struct{}
type messageMsg string

type model struct {
	spinner  spinner.Model
	progress progress.Model

	current  int
	results  []stepStats
	messages []string
	done     bool
	width    int
}

func initialModel() model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#F28F3B"))

	return model{
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		results:  make([]stepStats, len(steps)),
		width:    80,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, startTour())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 10
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd

	case messageMsg:
		m.messages = append(m.messages, string(msg))
		if len(m.messages) > 5 {
			m.messages = m.messages[1:]
		}
		return m, nil

	case stepDoneMsg:
		m.results[msg.index] = msg.stats
		m.current = msg.index + 1
		return m, m.progress.SetPercent(float64(m.current) / float64(len(steps)))

	case tourDoneMsg:
		m.done = true
		return m, nil
	}

	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("filter-mapkit live map tour"))
	b.WriteString("\n\n")

	for i, st := range steps {
		switch {
		case i < m.current:
			b.WriteString(successStyle.Render("✓ " + st.title))
			b.WriteString(dimStyle.Render("  " + renderStats(m.results[i])))
		case i == m.current && !m.done:
			b.WriteString(m.spinner.View() + subtitleStyle.Render(st.title))
		default:
			b.WriteString(dimStyle.Render("  " + st.title))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.progress.ViewAs(float64(m.current) / float64(len(steps))))

	if len(m.messages) > 0 {
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("Recent activity:"))
		b.WriteString("\n")
		for _, msg := range m.messages {
			b.WriteString(dimStyle.Render("• " + msg))
			b.WriteString("\n")
		}
	}

	if m.done {
		b.WriteString("\n")
		b.WriteString(boxStyle.Render(successStyle.Render("Tour complete!\n\n") + renderSummary(m.results)))
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Press 'q' to quit"))

	return b.String()
}

func renderStats(s stepStats) string {
	return fmt.Sprintf("%d clusters, %d shops at z%.1f (%s): %s",
		s.Clusters, s.Leaves, s.Zoom, s.Took.Round(time.Millisecond), s.Note)
}

func renderSummary(results []stepStats) string {
	var total time.Duration
	for _, r := range results {
		total += r.Took
	}
	last := results[len(results)-1]
	return fmt.Sprintf(
		"Steps: %s\nFinal view: %s clusters, %s individual shops\nTotal time: %s",
		statStyle.Render(fmt.Sprintf("%d", len(results))),
		statStyle.Render(fmt.Sprintf("%d", last.Clusters)),
		statStyle.Render(fmt.Sprintf("%d", last.Leaves)),
		statStyle.Render(total.Round(time.Millisecond).String()),
	)
}

var (
	program   *tea.Program
	tourShops int
	tourCfg   demoConfig
)

func startTour() tea.Cmd {
	return func() tea.Msg {
		go runTour(tourShops, tourCfg)
		return nil
	}
}

func runTour(shops int, cfg demoConfig) {
	t := newTour(shops, cfg, func(msg string) {
		program.Send(messageMsg(msg))
	})
	defer t.teardown()

	for i, st := range steps {
		stats := st.run(t)
		program.Send(stepDoneMsg{index: i, stats: stats})
	}
	program.Send(tourDoneMsg{})
}

// runPlain drives the same tour without the TUI, for pipes and dumb
// terminals.
func runPlain(shops int, cfg demoConfig) {
	t := newTour(shops, cfg, func(msg string) {
		fmt.Println("  " + msg)
	})
	defer t.teardown()

	fmt.Println("filter-mapkit live map tour")
	for _, st := range steps {
		stats := st.run(t)
		fmt.Printf("✓ %-24s %s\n", st.title, renderStats(stats))
	}
	fmt.Println("Tour complete")
}

func main() {
	flag.Parse()

	cfg := loadDemoConfig()
	shops := *shopCount
	if cfg.Shops > 0 && !flagPassed("shops") {
		shops = cfg.Shops
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		runPlain(shops, cfg)
		return
	}

	tourShops, tourCfg = shops, cfg
	program = tea.NewProgram(initialModel())
	if _, err := program.Run(); err != nil {
		log.Fatal(err)
	}
}

func flagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

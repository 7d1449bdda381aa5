// Command monitor is an optional terminal dashboard (§6) polling the
// "first write wins" global counters and broker queue depth. Grounded on
// charmbracelet/bubbletea's model-update-view loop and lipgloss for layout,
// the only TUI stack present anywhere in the retrieval pack.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/groupstage/predictor-backend/internal/broker"
	"github.com/groupstage/predictor-backend/internal/cache"
	"github.com/groupstage/predictor-backend/internal/config"
	"github.com/groupstage/predictor-backend/internal/tools/common"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Watch prediction processing progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(ctx context.Context) error {
	if err := common.LoadEnvFile(".env"); err != nil {
		return fmt.Errorf("monitor: load .env: %w", err)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("monitor: load config: %w", err)
	}

	c, err := cache.Connect(ctx, cache.Options{Addr: cfg.RedisAddr(), Password: cfg.RedisPassword})
	if err != nil {
		return fmt.Errorf("monitor: connect redis: %w", err)
	}

	b, err := broker.Connect(cfg.RabbitMQURL, cfg.RabbitMQPrefetch, cfg.RabbitMQMaxRetries)
	if err != nil {
		return fmt.Errorf("monitor: connect broker: %w", err)
	}
	defer func() { _ = b.Close() }()

	m := newModel(c, b, cfg.RabbitMQQueue)
	p := tea.NewProgram(m)
	_, err = p.Run()
	return err
}

type snapshot struct {
	total      int64
	processed  int64
	queueDepth int
	err        error
}

type model struct {
	cache    cache.Cache
	broker   *broker.Broker
	queue    string
	snap     snapshot
	quitting bool
}

func newModel(c cache.Cache, b *broker.Broker, queue string) model {
	return model{cache: c, broker: b, queue: queue}
}

type tickMsg time.Time

func (m model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickEvery())
}

func tickEvery() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		var snap snapshot
		total, err := m.cache.Get(ctx, "stats:total")
		if err != nil && !errors.Is(err, cache.ErrNil) {
			snap.err = err
			return snap
		}
		fmt.Sscanf(total, "%d", &snap.total)

		processed, err := m.cache.Get(ctx, "stats:processed")
		if err != nil && !errors.Is(err, cache.ErrNil) {
			snap.err = err
			return snap
		}
		fmt.Sscanf(processed, "%d", &snap.processed)

		snap.queueDepth = m.broker.QueueMessageCount(m.queue)
		return snap
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.poll(), tickEvery())
	case snapshot:
		m.snap = msg
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func (m model) View() string {
	if m.quitting {
		return ""
	}
	if m.snap.err != nil {
		return errorStyle.Render(fmt.Sprintf("monitor error: %v\n", m.snap.err))
	}

	pending := m.snap.total - m.snap.processed
	if pending < 0 {
		pending = 0
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("prediction processing"),
		"",
		row("total", m.snap.total),
		row("processed", m.snap.processed),
		row("pending", pending),
		rowInt("queue depth", m.snap.queueDepth),
		"",
		labelStyle.Render("press q to quit"),
	) + "\n"
}

func row(label string, v int64) string {
	return fmt.Sprintf("%s %s", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(v)))
}

func rowInt(label string, v int) string {
	return fmt.Sprintf("%s %s", labelStyle.Render(label+":"), valueStyle.Render(fmt.Sprint(v)))
}

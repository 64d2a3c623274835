package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
)

// Panel represents which panel is active
type Panel int

const (
	PanelTables Panel = iota
	PanelRuns
	PanelEvents
)

// Source is the part of the sync API the monitor polls.
type Source interface {
	Status(ctx context.Context) (*engine.Status, error)
	Runs(ctx context.Context, limit int) ([]ledger.RunRecord, error)
}

// Model is the main Bubble Tea model for the monitor TUI
type Model struct {
	Source    Source
	EventsURL string

	// Window dimensions
	Width  int
	Height int

	// Panel data
	Status *engine.Status
	Runs   []ledger.RunRecord
	Events []engine.Event

	// UI state
	ActivePanel Panel
	ShowHelp    bool
	LastRefresh time.Time
	Err         error // Last error, if any
	EventsErr   error // Last event feed error, if any
	Connected   bool

	table   table.Model
	spinner spinner.Model
	feed    chan engine.Event
	ctx     context.Context
	cancel  context.CancelFunc

	// Configuration
	RefreshInterval time.Duration
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 15

// maxEvents bounds the live event log
const maxEvents = 200

// runsShown is how many recent runs are fetched per refresh
const runsShown = 10

// reconnectDelay is the pause before redialing a dropped event feed
const reconnectDelay = 5 * time.Second

// TickMsg triggers a data refresh
type TickMsg time.Time

// RefreshDataMsg carries refreshed data
type RefreshDataMsg struct {
	Status    *engine.Status
	Runs      []ledger.RunRecord
	Err       error
	Timestamp time.Time
}

// EventMsg carries one event from the live feed
type EventMsg engine.Event

// eventsConnectedMsg reports a successful dial
type eventsConnectedMsg struct{}

// eventsClosedMsg reports the live feed ended
type eventsClosedMsg struct{ err error }

// reconnectMsg asks for a redial of the live feed
type reconnectMsg struct{}

// NewModel creates a new monitor model. An empty eventsURL disables the live
// event feed.
func NewModel(src Source, eventsURL string, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		Source:          src,
		EventsURL:       eventsURL,
		RefreshInterval: interval,
		table: table.New(
			table.WithColumns(tableColumns(MinWidth)),
			table.WithFocused(true),
			table.WithHeight(5),
			table.WithStyles(tableStyles()),
		),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(warnStyle)),
		feed:    make(chan engine.Event, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.fetchData(), m.scheduleTick(), m.spinner.Tick}
	if m.EventsURL != "" {
		cmds = append(cmds, m.connectEvents())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.resizeTable()
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.LastRefresh = msg.Timestamp
		m.Err = msg.Err
		if msg.Err == nil {
			m.Status = msg.Status
			m.Runs = msg.Runs
			m.table.SetRows(tableRows(m.Status))
		}
		return m, nil

	case EventMsg:
		m.Events = append(m.Events, engine.Event(msg))
		if len(m.Events) > maxEvents {
			m.Events = m.Events[len(m.Events)-maxEvents:]
		}
		// Run lifecycle changes the counts, so refresh now rather than on the next tick.
		return m, tea.Batch(waitForEvent(m.feed), m.fetchData())

	case eventsConnectedMsg:
		m.Connected = true
		m.EventsErr = nil
		return m, waitForEvent(m.feed)

	case eventsClosedMsg:
		m.Connected = false
		m.EventsErr = msg.err
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.connectEvents()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil

	case "esc":
		m.ShowHelp = false
		return m, nil

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		m.syncTableFocus()
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		m.syncTableFocus()
		return m, nil

	case "1":
		m.ActivePanel = PanelTables
		m.syncTableFocus()
		return m, nil

	case "2":
		m.ActivePanel = PanelRuns
		m.syncTableFocus()
		return m, nil

	case "3":
		m.ActivePanel = PanelEvents
		m.syncTableFocus()
		return m, nil

	case "r":
		return m, m.fetchData()

	case "c":
		m.Events = nil
		return m, nil
	}

	if m.ActivePanel == PanelTables {
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) syncTableFocus() {
	if m.ActivePanel == PanelTables {
		m.table.Focus()
	} else {
		m.table.Blur()
	}
}

// resizeTable fits the stats table to the current window
func (m *Model) resizeTable() {
	width := m.Width - 4
	if width < MinWidth {
		width = MinWidth
	}
	m.table.SetColumns(tableColumns(width))
	m.table.SetWidth(width)
	h := m.tablesPanelHeight() - 3
	if h < 1 {
		h = 1
	}
	m.table.SetHeight(h)
}

// scheduleTick returns a command that triggers a tick after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that fetches status and recent runs
func (m Model) fetchData() tea.Cmd {
	src, parent := m.Source, m.ctx
	return func() tea.Msg {
		return FetchData(parent, src)
	}
}

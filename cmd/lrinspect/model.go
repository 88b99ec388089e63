package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/livefir/liveregion/client"
)

const logLines = 6

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	paneStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8"))
	logStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	desyncStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type regionItem struct {
	id   string
	hash string
}

func (i regionItem) Title() string       { return i.id }
func (i regionItem) Description() string { return shortHash(i.hash) }
func (i regionItem) FilterValue() string { return i.id }

type updateMsg client.Update

type closedMsg struct{ err error }

type model struct {
	client  *client.Client
	pageURL string
	updates <-chan client.Update
	done    <-chan error

	regions list.Model
	source  viewport.Model
	spinner spinner.Model

	synced bool
	log    []string
	err    error
	width  int
	height int
}

func newModel(c *client.Client, pageURL string, updates <-chan client.Update, done <-chan error) model {
	regions := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	regions.Title = "Regions"
	regions.SetShowHelp(false)

	m := model{
		client:  c,
		pageURL: pageURL,
		updates: updates,
		done:    done,
		regions: regions,
		source:  viewport.New(0, 0),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates), waitForClose(m.done))
}

func waitForUpdate(updates <-chan client.Update) tea.Cmd {
	if updates == nil {
		return nil
	}
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

func waitForClose(done <-chan error) tea.Cmd {
	if done == nil {
		return nil
	}
	return func() tea.Msg { return closedMsg{err: <-done} }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case updateMsg:
		u := client.Update(msg)
		if u.Outcome == client.Applied {
			m.synced = true
		}
		m.record(u)
		m.refresh()
		return m, waitForUpdate(m.updates)

	case closedMsg:
		m.err = msg.err
		if m.err == nil {
			m.err = fmt.Errorf("connection closed")
		}
		return m, nil

	case spinner.TickMsg:
		if m.synced {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	before := m.regions.Index()
	m.regions, cmd = m.regions.Update(msg)
	cmds = append(cmds, cmd)
	if m.regions.Index() != before {
		m.showSelected()
	}

	m.source, cmd = m.source.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) record(u client.Update) {
	line := fmt.Sprintf("%-12s %-8s %s", u.Channel, u.Outcome, u.RegionID)
	if u.Stats.Changed() {
		line += fmt.Sprintf("  ~%d +%d -%d", u.Stats.Updated, u.Stats.Added, u.Stats.Removed)
	}
	if u.Outcome == client.Desync {
		line = desyncStyle.Render(line)
	}
	m.log = append(m.log, line)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// refresh reloads the region list and the selected region's markup
func (m *model) refresh() {
	ids := m.client.RegionIDs()
	items := make([]list.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, regionItem{id: id, hash: m.client.Hash(id)})
	}
	m.regions.SetItems(items)
	m.showSelected()
}

func (m *model) showSelected() {
	item, ok := m.regions.SelectedItem().(regionItem)
	if !ok {
		m.source.SetContent("")
		return
	}
	markup, _ := m.client.RegionHTML(item.id)
	m.source.SetContent(markup)
}

func (m *model) layout() {
	bodyHeight := m.height - logLines - 6
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	listWidth := m.width / 3
	m.regions.SetSize(listWidth, bodyHeight)
	m.source.Width = m.width - listWidth - 4
	m.source.Height = bodyHeight
}

func (m model) View() string {
	var b strings.Builder

	status := m.spinner.View() + " waiting for init"
	if m.synced {
		status = "synced"
	}
	if m.err != nil {
		status = desyncStyle.Render(m.err.Error())
	}
	b.WriteString(titleStyle.Render("lrinspect "+m.pageURL) + "  " + status + "\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		paneStyle.Render(m.regions.View()),
		paneStyle.Render(m.source.View()),
	))
	b.WriteString("\n")
	b.WriteString(logStyle.Render(strings.Join(m.log, "\n")))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select region • pgup/pgdn scroll • q quit"))
	return b.String()
}

func shortHash(h string) string {
	if h == "" {
		return "no hash yet"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// dump renders every region as plain text
func dump(c *client.Client) string {
	var b strings.Builder
	for _, id := range c.RegionIDs() {
		markup, _ := c.RegionHTML(id)
		fmt.Fprintf(&b, "%s %s\n%s\n\n", titleStyle.Render(id), shortHash(c.Hash(id)), markup)
	}
	return b.String()
}

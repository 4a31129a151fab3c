package tui

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ghgrag/internal/domain"
	"ghgrag/internal/session"
	"ghgrag/internal/tabular"
)

// SessionPort is the TUI-facing subset of the session.
type SessionPort interface {
	UploadFile(ctx context.Context, path string) (session.Dataset, error)
	Loaded() (session.Dataset, bool)
	Mode() string
	Ask(ctx context.Context, question string, k int) []string
	Similar(ctx context.Context, question string, k int) []domain.DocumentResult
	Search(query string) []domain.CodeTitle
	Trends(code string) (tabular.Trends, bool)
	Summary() tabular.Summary
}

type tab int

const (
	tabAsk tab = iota
	tabSearch
	tabTrends
)

var tabNames = []string{"Ask", "Search", "Trends"}

// answersMsg and loadedMsg carry the results of blocking session calls.
type answersMsg struct {
	question string
	answers  []string
	sources  []domain.DocumentResult
}

type loadedMsg struct {
	dataset session.Dataset
	err     error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	session  SessionPort
	topK     int
	input    textinput.Model
	viewport viewport.Model
	tab      tab
	loading  bool // the input holds a file path
	busy     bool
	results  []string
	cursor   int
	status   string
	ready    bool
	lastQry  string
}

// New creates a new TUI model instance.
func New(s SessionPort, topK int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 0
	m := Model{session: s, topK: topK, input: ti, viewport: viewport.New(0, 0)}
	m.status = "Press ctrl+o to load a CSV file."
	if ds, ok := s.Loaded(); ok {
		m.status = fmt.Sprintf("Loaded %s (%d records).", ds.Name, ds.Records)
	}
	m.setPlaceholder()
	return m
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 3 + 1 + 1 + qh // header, summary and tabs; status; input line
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case answersMsg:
		m.busy = false
		m.results = withSources(msg.answers, msg.sources)
		m.cursor = 0
		m.lastQry = msg.question
		m.status = fmt.Sprintf("Answers for %q (%s)", msg.question, m.session.Mode())
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case loadedMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.status = fmt.Sprintf("Loaded %s (%d records).", msg.dataset.Name, msg.dataset.Records)
			m.results = nil
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "ctrl+o":
			m.loading = !m.loading
			m.input.SetValue("")
			m.setPlaceholder()
			return m, nil
		case "esc":
			if m.loading {
				m.loading = false
				m.setPlaceholder()
				return m, nil
			}
		case "tab", "shift+tab":
			if !m.loading {
				step := 1
				if msg.String() == "shift+tab" {
					step = len(tabNames) - 1
				}
				m.tab = tab((int(m.tab) + step) % len(tabNames))
				m.results = nil
				m.setPlaceholder()
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.busy {
				return m, nil
			}
			return m.submit(q)
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit(q string) (tea.Model, tea.Cmd) {
	if m.loading {
		m.loading = false
		m.busy = true
		m.input.SetValue("")
		m.setPlaceholder()
		m.status = "Loading " + q + "..."
		s := m.session
		return m, func() tea.Msg {
			ds, err := s.UploadFile(context.Background(), q)
			return loadedMsg{dataset: ds, err: err}
		}
	}
	switch m.tab {
	case tabAsk:
		m.busy = true
		m.status = "Thinking..."
		s, k := m.session, m.topK
		return m, func() tea.Msg {
			ctx := context.Background()
			return answersMsg{question: q, answers: s.Ask(ctx, q, k), sources: s.Similar(ctx, q, k)}
		}
	case tabSearch:
		m.results = uniqueMatches(m.session.Search(q))
		m.status = fmt.Sprintf("%d matches for %q", len(m.results), q)
		m.lastQry = q
	case tabTrends:
		tr, ok := m.session.Trends(q)
		if !ok {
			m.results = nil
			m.status = fmt.Sprintf("No data found for NAICS code %s", q)
		} else {
			m.results = []string{renderTrends(tr)}
			m.status = "Trends for " + q
		}
		m.lastQry = ""
	}
	m.cursor = 0
	m.viewport.SetContent(m.renderCurrentResult())
	return m, nil
}

func (m *Model) setPlaceholder() {
	switch {
	case m.loading:
		m.input.Placeholder = "Path to CSV file, Enter to load, Esc to cancel"
	case m.tab == tabAsk:
		m.input.Placeholder = "Ask a question and press Enter"
	case m.tab == tabSearch:
		m.input.Placeholder = "Search NAICS codes or titles"
	default:
		m.input.Placeholder = "NAICS code"
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("GHG Emission Factors")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summaryLine())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + m.renderTabs() + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) summaryLine() string {
	ds, ok := m.session.Loaded()
	if !ok {
		return "No dataset loaded  mode=" + m.session.Mode()
	}
	s := m.session.Summary()
	return fmt.Sprintf("%s  records=%d  unique NAICS=%d  mode=%s", ds.Name, s.TotalRecords, s.UniqueNAICS, m.session.Mode())
}

func (m Model) renderTabs() string {
	parts := make([]string, len(tabNames))
	for i, name := range tabNames {
		if tab(i) == m.tab && !m.loading {
			parts[i] = activeTabStyle.Render(name)
		} else {
			parts[i] = tabStyle.Render(name)
		}
	}
	if m.loading {
		parts = append(parts, activeTabStyle.Render("Load"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	title := fmt.Sprintf("Result %d/%d", m.cursor+1, len(m.results))
	return title + "\n\n" + highlightBestLine(m.results[m.cursor], m.lastQry)
}

// withSources appends retrieved documents not already shown as answers.
func withSources(answers []string, sources []domain.DocumentResult) []string {
	out := append([]string(nil), answers...)
	shown := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		shown[a] = struct{}{}
	}
	for _, src := range sources {
		if src.Error != "" || src.Content == "" {
			continue
		}
		if _, ok := shown[src.Content]; ok {
			continue
		}
		shown[src.Content] = struct{}{}
		out = append(out, "Related Information\n\n"+src.Content)
	}
	return out
}

// uniqueMatches formats (code, title) pairs, dropping repeats.
func uniqueMatches(matches []domain.CodeTitle) []string {
	seen := make(map[domain.CodeTitle]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, ct := range matches {
		if _, ok := seen[ct]; ok {
			continue
		}
		seen[ct] = struct{}{}
		out = append(out, ct.Code+"  "+ct.Title)
	}
	return out
}

func renderTrends(tr tabular.Trends) string {
	names := make([]string, 0, len(tr.EmissionFactors))
	for name := range tr.EmissionFactors {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "NAICS Code: %s\nDescription: %s\n", tr.NAICSCode, tr.Description)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %.4g\n", name, tr.EmissionFactors[name])
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	tabStyle       = lipgloss.NewStyle().Padding(0, 2).Foreground(lipgloss.Color("8"))
	activeTabStyle = tabStyle.Foreground(lipgloss.Color("12")).Bold(true).Underline(true)
	wordRe         = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’.][\p{L}\p{N}]+)*`)
)

// highlightBestLine emphasises the line sharing most tokens with query.
func highlightBestLine(text, query string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 || len(lines) < 2 {
		return strings.Join(lines, "\n")
	}
	bestIdx, bestScore := -1, 0
	for i, l := range lines {
		if score := tokenOverlapScore(qTokens, l); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	if bestIdx >= 0 {
		lines[bestIdx] = highlightStyle.Render(lines[bestIdx])
	}
	return strings.Join(lines, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, line string) int {
	score := 0
	for t := range toTokenSet(line) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}

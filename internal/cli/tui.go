package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/lockstep/pkg/changes"
	"github.com/matzehuels/lockstep/pkg/errors"
	"github.com/matzehuels/lockstep/pkg/publish"
	"github.com/matzehuels/lockstep/pkg/release"
	"github.com/matzehuels/lockstep/pkg/version"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// errPromptCancelled is returned when the user quits a prompt.
var errPromptCancelled = fmt.Errorf("prompt cancelled: %w", context.Canceled)

// =============================================================================
// BumpModel - Interactive version bump selection
// =============================================================================

// bumpChoice is one selectable bump.
type bumpChoice struct {
	Keyword string
	Next    string
}

// BumpModel is the bubbletea model for choosing a version bump.
type BumpModel struct {
	Request  version.PromptRequest
	Choices  []bumpChoice
	Cursor   int
	Selected string
}

// NewBumpModel lists every bump keyword with the version it leads to.
// Keywords that cannot be applied to the current version are left out.
func NewBumpModel(req version.PromptRequest) BumpModel {
	m := BumpModel{Request: req}
	for _, kw := range version.Keywords {
		next, err := version.Bump(req.Current, kw, req.PreID)
		if err != nil {
			continue
		}
		m.Choices = append(m.Choices, bumpChoice{Keyword: kw, Next: next})
	}
	return m
}

func (m BumpModel) Init() tea.Cmd {
	return nil
}

func (m BumpModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
			}
		case "down", "j":
			if m.Cursor < len(m.Choices)-1 {
				m.Cursor++
			}
		case "enter":
			if len(m.Choices) > 0 {
				m.Selected = m.Choices[m.Cursor].Keyword
			}
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m BumpModel) View() string {
	var b strings.Builder

	title := "Select a new version"
	if m.Request.Package != "" {
		title += " for " + m.Request.Package
	}
	b.WriteString(StyleTitle.Render(title))
	b.WriteString(listDimStyle.Render(fmt.Sprintf(" (currently %s)", m.Request.Current)))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  ⏎ select  q quit"))
	b.WriteString("\n\n")

	for i, c := range m.Choices {
		cursor := "  "
		style := listNormalStyle
		if i == m.Cursor {
			cursor = "▸ "
			style = listSelectedStyle
		}
		line := fmt.Sprintf("%s%-11s %s", cursor, c.Keyword, c.Next)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// InputModel - One-time password entry
// =============================================================================

// InputModel reads one line of digits, e.g. a one-time password.
type InputModel struct {
	Prompt string
	Value  string
	Done   bool
}

func (m InputModel) Init() tea.Cmd {
	return nil
}

func (m InputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.Value != "" {
				m.Done = true
				return m, tea.Quit
			}
		case tea.KeyBackspace:
			if m.Value != "" {
				m.Value = m.Value[:len(m.Value)-1]
			}
		case tea.KeyRunes:
			for _, r := range msg.Runes {
				if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
					m.Value += string(r)
				}
			}
		}
	}
	return m, nil
}

func (m InputModel) View() string {
	return StyleTitle.Render(m.Prompt) + " " + StyleValue.Render(m.Value) + listDimStyle.Render("█") + "\n"
}

// =============================================================================
// ConfirmModel - Yes/no question
// =============================================================================

// ConfirmModel asks a yes/no question; anything but y declines.
type ConfirmModel struct {
	Question string
	Answer   bool
	Done     bool
}

func (m ConfirmModel) Init() tea.Cmd {
	return nil
}

func (m ConfirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch strings.ToLower(msg.String()) {
		case "y":
			m.Answer, m.Done = true, true
			return m, tea.Quit
		case "n", "enter", "q", "esc", "ctrl+c":
			m.Done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m ConfirmModel) View() string {
	return StyleTitle.Render(m.Question) + listDimStyle.Render(" [y/N]") + "\n"
}

// =============================================================================
// Prompt Adapters
// =============================================================================

// runModel runs m on the CLI's terminal until it quits and returns the
// final model.
func runModel[M tea.Model](ctx context.Context, c *CLI, m M) (M, error) {
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithInput(c.In), tea.WithOutput(c.Out))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return m, ctx.Err()
		}
		return m, errors.Wrap(errors.ErrCodeInternal, err, "prompt")
	}
	out, ok := final.(M)
	if !ok {
		return m, errors.New(errors.ErrCodeInternal, "prompt returned %T", final)
	}
	return out, nil
}

// bumpPrompt asks for a version bump whenever the resolver needs one.
func (c *CLI) bumpPrompt() version.PromptFunc {
	return func(ctx context.Context, req version.PromptRequest) (string, error) {
		m, err := runModel(ctx, c, NewBumpModel(req))
		if err != nil {
			return "", err
		}
		if m.Selected == "" {
			return "", errPromptCancelled
		}
		return m.Selected, nil
	}
}

// otpPrompter reads one-time passwords from the terminal.
func (c *CLI) otpPrompter() publish.Prompter {
	return publish.PrompterFunc(func(ctx context.Context, message string) (string, error) {
		m, err := runModel(ctx, c, InputModel{Prompt: message})
		if err != nil {
			return "", err
		}
		if !m.Done {
			return "", errPromptCancelled
		}
		return m.Value, nil
	})
}

// confirmPlan shows the plan and asks whether to go ahead.
func (c *CLI) confirmPlan(question string) release.ConfirmFunc {
	return func(ctx context.Context, plan *version.Plan, updates *changes.UpdateSet) (bool, error) {
		printPlan(c.Out, plan, updates)
		m, err := runModel(ctx, c, ConfirmModel{Question: question})
		if err != nil {
			return false, err
		}
		return m.Answer, nil
	}
}

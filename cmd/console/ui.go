package main

import (
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jwebster45206/world-engine/internal/services/events"
	"github.com/jwebster45206/world-engine/internal/world"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const PlaceHolderText = "Type an action, or /help..."

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	client       *http.Client
	updates      <-chan roomUpdateMsg
	roomID       string
	assetID      string
	room         *world.RoomView
	log          []string
	roomViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int
	loading      bool

	showQuitModal bool
	progressTick  int
}

type roomMsg struct {
	view *world.RoomView
	err  error
}

type actionResultMsg struct {
	src    string
	result *world.ActionResult
	err    error
}

type roomUpdateMsg struct {
	update *events.RoomUpdate
	err    error
}

type progressTickMsg struct{}

var (
	roomPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	linkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // teal
			Underline(true)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	titleCaser = cases.Title(language.English)
)

func NewConsoleUI(cfg *ConsoleConfig, client *http.Client, updates <-chan roomUpdateMsg) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 1000
	ta.SetWidth(50)
	ta.SetHeight(2)
	ta.ShowLineNumbers = false

	roomVp := viewport.New(50, 20)
	roomVp.MouseWheelEnabled = true

	return ConsoleUI{
		config:       cfg,
		client:       client,
		updates:      updates,
		roomID:       cfg.RoomID,
		assetID:      cfg.AssetID,
		textarea:     ta,
		roomViewport: roomVp,
		metaViewport: viewport.New(20, 20),
	}
}

// renderFragments turns rendered text into terminal text, styling links
func renderFragments(fragments []perception.Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		switch f.Tag {
		case perception.TagLineBreak:
			b.WriteString("\n")
		case perception.TagLink:
			b.WriteString(linkStyle.Render(f.Value))
		default:
			b.WriteString(f.Value)
		}
	}
	return b.String()
}

// formatRoom lays out a room description wrapped to width
func formatRoom(name string, description []perception.Fragment, exits []perception.Exit, width int) string {
	if width < 10 {
		width = 10
	}
	var content strings.Builder
	if name != "" {
		content.WriteString(titleStyle.Render(strings.ToUpper(name)) + "\n\n")
	}
	content.WriteString(wordwrap.String(renderFragments(description), width) + "\n\n")
	if len(exits) > 0 {
		names := make([]string, 0, len(exits))
		for _, exit := range exits {
			names = append(names, titleCaser.String(exit.Name))
		}
		content.WriteString(promptStyle.Render("Exits: ") + strings.Join(names, ", ") + "\n")
	}
	return content.String()
}

func (m *ConsoleUI) writeRoomContent() {
	width := m.roomViewport.Width - 6
	var content strings.Builder
	if m.room == nil {
		content.WriteString(titleStyle.Render("WORLD ENGINE") + "\n\n")
		content.WriteString("Looking around...\n")
	} else {
		content.WriteString(formatRoom(m.room.Name, m.room.Description.Description, m.room.Exits, width))
	}

	if len(m.log) > 0 {
		content.WriteString("\n" + separatorStyle.Render(strings.Repeat("─", max(width, 1))) + "\n\n")
		for _, line := range m.log {
			content.WriteString(wordwrap.String(line, width) + "\n")
		}
	}
	if m.loading {
		content.WriteString("\n" + m.renderProgressBar())
	}

	m.roomViewport.SetContent(content.String())
	m.roomViewport.GotoBottom()
}

func (m ConsoleUI) writeMetadata() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("CHARACTER") + "\n\n")
	content.WriteString(m.config.CharacterID + "\n\n")
	content.WriteString("Room:\n" + m.roomID + "\n\n")
	content.WriteString("Acting on:\n" + m.assetID + "\n\n")

	if m.room != nil {
		content.WriteString("Features:\n")
		if len(m.room.Features) == 0 {
			content.WriteString("None\n")
		}
		for _, f := range m.room.Features {
			content.WriteString("• " + f + "\n")
		}
		content.WriteString("\nAlso here:\n")
		if len(m.room.Characters) == 0 {
			content.WriteString("Nobody\n")
		}
		for _, c := range m.room.Characters {
			content.WriteString("• " + c + "\n")
		}
	}

	content.WriteString("\nCommands:\n")
	content.WriteString("• Enter: Run action\n")
	content.WriteString("• /look [room]\n")
	content.WriteString("• /asset <id>\n")
	content.WriteString("• /copy\n")
	content.WriteString("• Ctrl+C: Quit\n")
	return content.String()
}

func (m *ConsoleUI) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > 50 {
		m.log = slices.Delete(m.log, 0, len(m.log)-50)
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.fetchRoom(m.roomID), m.waitForUpdate())
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.roomViewport, vpCmd = m.roomViewport.Update(msg)
		return m, vpCmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		roomWidth := int(float64(m.width)*0.7) - 4
		metaWidth := m.width - roomWidth - 6
		m.roomViewport.Width = roomWidth - 2
		m.roomViewport.Height = m.height - 6
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 4
		m.textarea.SetWidth(roomWidth - 4)
		m.ready = true
		m.writeRoomContent()
		m.metaViewport.SetContent(m.writeMetadata())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}
			m.loading = true
			m.progressTick = 0
			m.writeRoomContent()
			return m, tea.Batch(m.runAction(input), progressTick())
		}

	case roomMsg:
		if msg.err != nil {
			m.appendLog(errorStyle.Render("Error: " + msg.err.Error()))
		} else {
			m.room = msg.view
			m.roomID = msg.view.TargetID
		}
		m.writeRoomContent()
		m.metaViewport.SetContent(m.writeMetadata())

	case actionResultMsg:
		m.loading = false
		switch {
		case msg.err != nil:
			m.appendLog(errorStyle.Render("Error: " + msg.err.Error()))
		case msg.result.Error != "":
			m.appendLog(errorStyle.Render(msg.src + " failed: " + msg.result.Error))
		default:
			m.appendLog(resultStyle.Render(fmt.Sprintf("%s → %v", msg.src, msg.result.ReturnValue)))
		}
		m.writeRoomContent()

	case roomUpdateMsg:
		if msg.err != nil {
			m.appendLog(errorStyle.Render("Event stream: " + msg.err.Error()))
		} else if msg.update.RoomID == m.roomID {
			// Room updates carry no character list, so keep the one we have
			var others []string
			if m.room != nil {
				others = m.room.Characters
			}
			m.room = &world.RoomView{
				Description: perception.Description{
					TargetID:    msg.update.RoomID,
					Name:        msg.update.Name,
					Description: msg.update.Description,
					Exits:       msg.update.Exits,
					Features:    msg.update.Features,
				},
				Characters: others,
			}
			m.metaViewport.SetContent(m.writeMetadata())
		}
		m.writeRoomContent()
		return m, m.waitForUpdate()

	case progressTickMsg:
		if m.loading {
			m.progressTick++
			m.writeRoomContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.roomViewport, vpCmd = m.roomViewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// parseCommand splits "/name arg" into its lowercased name and argument
func parseCommand(input string) (string, string) {
	name, arg, _ := strings.Cut(strings.TrimSpace(input), " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	name, arg := parseCommand(input)

	switch name {
	case "/help":
		m.appendLog(titleStyle.Render("Help:") + `
• Any other input runs as an action against the current asset, e.g. lamp_lit = not lamp_lit
• /look [room] - describe the current room or another one
• /asset <id> - choose the asset actions run against
• /copy - copy the room description to the clipboard
• Ctrl+C - Quit`)

	case "/look":
		target := m.roomID
		if arg != "" {
			target = arg
		}
		m.writeRoomContent()
		return m, m.fetchRoom(target)

	case "/asset":
		if arg == "" {
			m.appendLog(errorStyle.Render("Usage: /asset <id>"))
			break
		}
		m.assetID = arg
		m.metaViewport.SetContent(m.writeMetadata())

	case "/copy":
		if m.room == nil {
			break
		}
		if err := clipboard.WriteAll(perception.Text(m.room.Description.Description)); err != nil {
			m.appendLog(errorStyle.Render("Copy failed: " + err.Error()))
		} else {
			m.appendLog(promptStyle.Render("Copied room description."))
		}

	default:
		m.appendLog(errorStyle.Render("Unknown command " + name))
	}

	m.writeRoomContent()
	return m, nil
}

func (m ConsoleUI) fetchRoom(roomID string) tea.Cmd {
	return func() tea.Msg {
		view, err := getRoom(m.client, m.config.APIBaseURL, roomID, m.config.CharacterID)
		return roomMsg{view, err}
	}
}

func (m ConsoleUI) runAction(src string) tea.Cmd {
	return func() tea.Msg {
		result, err := postAction(m.client, m.config.APIBaseURL, m.assetID, m.config.CharacterID, src)
		return actionResultMsg{src, result, err}
	}
}

func (m ConsoleUI) waitForUpdate() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Leave the world?")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}
	if !m.ready {
		return "\n  Initializing..."
	}

	roomWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - roomWidth - 6

	roomPanel := roomPanelStyle.Width(roomWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.roomViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(roomWidth-4, 1))),
			m.textarea.View(),
		),
	)
	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, roomPanel, metaPanel)
}

// renderProgressBar creates an animated progress bar for loading states
func (m ConsoleUI) renderProgressBar() string {
	usable := min(max(m.roomViewport.Width-6, 10), 80)

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

// progressTick creates a command that sends a progress tick message
func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}

// Command vjctl is a terminal control surface for a running deck. It joins
// the relay as a control endpoint, mirrors the deck's status line, and maps
// keys onto remote commands.
//
// Usage:
//
//	vjctl [flags]
//
// Examples:
//
//	vjctl
//	vjctl -relay ws://192.168.1.20:8080/ws
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cwbudde/algo-vj/bridge"
)

var bands = []string{"low", "mid", "high"}

type statusMsg bridge.Status

type connLostMsg struct{}

// listenForStatus re-arms after every snapshot; a closed channel means the
// relay connection died.
func listenForStatus(ch <-chan bridge.Status) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return connLostMsg{}
		}

		return statusMsg(st)
	}
}

type model struct {
	ctl      *bridge.ControlChannel
	statusCh <-chan bridge.Status

	status bridge.Status
	band   int
	synced bool
	lost   bool
}

func newModel(ctl *bridge.ControlChannel, statusCh <-chan bridge.Status) model {
	return model{ctl: ctl, statusCh: statusCh}
}

func (m model) Init() tea.Cmd {
	return listenForStatus(m.statusCh)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case statusMsg:
		m.status = bridge.Status(msg)
		m.synced = true

		return m, listenForStatus(m.statusCh)

	case connLostMsg:
		m.lost = true
		return m, tea.Quit
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "1", "2", "3":
		m.band = int(msg.String()[0] - '1')

	case "+", "=":
		m.send(m.ctl.SendGain(bands[m.band], m.knob(bands[m.band])+5))

	case "-", "_":
		m.send(m.ctl.SendGain(bands[m.band], m.knob(bands[m.band])-5))

	case "p":
		if id := next(m.status.Presets, m.status.Preset); id != "" {
			m.send(m.ctl.SendPreset(id))
		}

	case "r":
		if name := next(m.status.Renderers, m.status.Renderer); name != "" {
			m.send(m.ctl.SendRenderer(name))
		}

	case " ":
		if m.status.Playing {
			m.send(m.ctl.SendMIDI([]byte{0xFC}))
		} else {
			m.send(m.ctl.SendMIDI([]byte{0xFA}))
		}
	}

	if m.lost {
		return m, tea.Quit
	}

	return m, nil
}

func (m *model) send(err error) {
	if err != nil {
		m.lost = true
	}
}

// knob returns the last echoed knob value, optimistic changes ride on top.
func (m model) knob(band string) float64 {
	if v, ok := m.status.Knobs[band]; ok {
		return v
	}

	return 50
}

// next returns the element after current, wrapping. An unknown or empty
// current yields the first element.
func next(items []string, current string) string {
	if len(items) == 0 {
		return ""
	}

	for i, it := range items {
		if it == current {
			return items[(i+1)%len(items)]
		}
	}

	return items[0]
}

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

func (m model) View() string {
	if m.lost {
		return "connection lost\n"
	}

	if !m.synced {
		return "\n  waiting for deck status...\n\n" + dimStyle.Render("  q:quit") + "\n"
	}

	st := m.status

	playState := "STOP"
	if st.Playing {
		playState = "PLAY"
	}

	fx := "fx:--"
	if st.Ready {
		fx = "fx:ready"
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(headerStyle.Render(fmt.Sprintf("  algo-vj  %s %5.1fbpm  %s", playState, st.BPM, fx)))
	out.WriteString("\n\n")

	for i, band := range bands {
		out.WriteString(m.renderKnob(band, i == m.band))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	out.WriteString(fmt.Sprintf("  preset   %s\n", highlight(st.Presets, st.Preset)))
	out.WriteString(fmt.Sprintf("  renderer %s\n", highlight(st.Renderers, st.Renderer)))
	out.WriteString("\n")
	out.WriteString(dimStyle.Render("  1-3:band  +/-:gain  p:preset  r:renderer  space:transport  q:quit"))
	out.WriteString("\n")

	return out.String()
}

func (m model) renderKnob(band string, selected bool) string {
	v := m.knob(band)
	filled := int(v / 5)
	if filled > 20 {
		filled = 20
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", 20-filled)
	line := fmt.Sprintf("  %-4s %s %3.0f", band, bar, v)
	if selected {
		return selStyle.Render(line)
	}

	return line
}

// highlight renders items with the active one bracketed.
func highlight(items []string, active string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it == active {
			parts = append(parts, selStyle.Render("["+it+"]"))
		} else {
			parts = append(parts, dimStyle.Render(it))
		}
	}

	return strings.Join(parts, " ")
}

func main() {
	relay := flag.String("relay", "ws://127.0.0.1:8080/ws", "relay websocket URL")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: vjctl [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Terminal control surface for a running deck.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The TUI drains this faster than the heartbeat fills it; dropping a
	// stale snapshot beats blocking the connection's read loop.
	statusCh := make(chan bridge.Status, 16)

	ctl, err := bridge.DialControl(dialCtx, *relay, func(st bridge.Status) {
		select {
		case statusCh <- st:
		default:
		}
	}, bridge.WithChannelClose(func(error) { close(statusCh) }))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer ctl.Close()

	p := tea.NewProgram(newModel(ctl, statusCh), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

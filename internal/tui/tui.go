// Package tui is C14, a bubbletea monitor that dials the control plane
// (internal/control) and polls one channel's identity, attached clients,
// lease status and traffic counters, grounded on guiperry-HASHER's
// internal/cli/ui Model/Update/View/tea.Tick chat UI — generalized here
// from chat-and-pipeline panes to a single scrolling channel dashboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/control"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("120"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// pollInterval matches the one-second admin-panel refresh the teacher's
// own resource-usage tick uses.
const pollInterval = time.Second

// frameLogLines bounds the scrollback the viewport pane keeps, the same
// way the teacher's chat pane trims history rather than growing forever.
const frameLogLines = 500

type tickMsg time.Time

type refreshMsg struct {
	info    *control.ChannelInfoResponse
	clients *control.ListClientsResponse
	lease   *control.LeaseStatusResponse
	stats   *control.GetStatsResponse
	err     error
}

// streamReadyMsg carries the just-opened StreamFrames tee, or the error
// from trying to open it.
type streamReadyMsg struct {
	stream *control.FrameStream
	err    error
}

// frameMsg carries one decoded CAN_RX/STATUS/ERROR event off the tee.
type frameMsg struct {
	ev  *control.FrameEvent
	err error
}

// Model is the monitor's bubbletea state: a control-plane client bound
// to one channel ID, plus the last successfully polled snapshot and a
// scrolling log of frame events from StreamFrames.
type Model struct {
	Client    *control.Client
	ChannelID string

	width, height int

	info    *control.ChannelInfoResponse
	clients *control.ListClientsResponse
	lease   *control.LeaseStatusResponse
	stats   *control.GetStatsResponse
	lastErr error

	stream     *control.FrameStream
	streamErr  error
	frameLog   []string
	log        viewport.Model
	logReady   bool
}

// NewModel builds a monitor Model for channelID, dialing through client.
func NewModel(client *control.Client, channelID string) Model {
	return Model{Client: client, ChannelID: channelID, width: 80, height: 24}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tickCmd(), m.openStream())
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// openStream dials StreamFrames once; Update re-arms readFrame after
// every successful receive instead of calling this again.
func (m Model) openStream() tea.Cmd {
	return func() tea.Msg {
		stream, err := m.Client.StreamFrames(context.Background(), &control.StreamFramesRequest{ChannelID: m.ChannelID})
		return streamReadyMsg{stream: stream, err: err}
	}
}

// readFrame blocks on the tee's next Recv, the classic bubbletea pattern
// for bridging a blocking stream into the Update loop one message at a
// time rather than buffering it behind a goroutine of its own.
func readFrame(stream *control.FrameStream) tea.Cmd {
	return func() tea.Msg {
		ev, err := stream.Recv()
		return frameMsg{ev: ev, err: err}
	}
}

func formatFrameEvent(ev *control.FrameEvent) string {
	switch broker.ElementKind(ev.Kind) {
	case broker.ElemRX:
		return fmt.Sprintf("RX  id=%03X dlc=%d flags=%02X data=% X", ev.CANID, ev.DLC, ev.Flags, ev.Data)
	case broker.ElemTx:
		return fmt.Sprintf("TX  id=%03X dlc=%d flags=%02X data=% X", ev.CANID, ev.DLC, ev.Flags, ev.Data)
	case broker.ElemTxR:
		return fmt.Sprintf("TXR id=%03X dlc=%d", ev.CANID, ev.DLC)
	case broker.ElemStatus:
		return fmt.Sprintf("STATUS bus=%d", ev.BusStatus)
	case broker.ElemError:
		return fmt.Sprintf("ERROR code=%d", ev.ErrorCode)
	default:
		return fmt.Sprintf("EVENT kind=%d", ev.Kind)
	}
}

// poll issues the four query RPCs against the bound channel and folds
// the results into a single refreshMsg, so Update only ever has to merge
// one message rather than juggle four in-flight requests.
func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		out := refreshMsg{}
		info, err := m.Client.GetChannelInfo(ctx, &control.ChannelInfoRequest{ChannelID: m.ChannelID})
		if err != nil {
			out.err = err
			return out
		}
		out.info = info

		if clients, err := m.Client.ListClients(ctx, &control.ListClientsRequest{ChannelID: m.ChannelID}); err == nil {
			out.clients = clients
		}
		if lease, err := m.Client.GetLeaseStatus(ctx, &control.LeaseStatusRequest{ChannelID: m.ChannelID}); err == nil {
			out.lease = lease
		}
		if stats, err := m.Client.GetStats(ctx, &control.GetStatsRequest{ChannelID: m.ChannelID}); err == nil {
			out.stats = stats
		}
		return out
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		logHeight := m.height - 14
		if logHeight < 3 {
			logHeight = 3
		}
		if !m.logReady {
			m.log = viewport.New(m.width-2, logHeight)
			m.logReady = true
		} else {
			m.log.Width = m.width - 2
			m.log.Height = logHeight
		}
		m.log.SetContent(strings.Join(m.frameLog, "\n"))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd

	case tickMsg:
		return m, tea.Batch(m.poll(), tickCmd())

	case refreshMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.info = msg.info
			m.clients = msg.clients
			m.lease = msg.lease
			m.stats = msg.stats
		}
		return m, nil

	case streamReadyMsg:
		if msg.err != nil {
			m.streamErr = msg.err
			return m, nil
		}
		m.stream = msg.stream
		return m, readFrame(m.stream)

	case frameMsg:
		if msg.err != nil {
			m.streamErr = msg.err
			return m, nil
		}
		m.frameLog = append(m.frameLog, formatFrameEvent(msg.ev))
		if len(m.frameLog) > frameLogLines {
			m.frameLog = m.frameLog[len(m.frameLog)-frameLogLines:]
		}
		m.log.SetContent(strings.Join(m.frameLog, "\n"))
		m.log.GotoBottom()
		return m, readFrame(m.stream)
	}
	return m, nil
}

func (m Model) View() string {
	header := headerStyle.Width(m.width).Render(fmt.Sprintf(" supercan monitor | channel %s", m.ChannelID))

	if m.lastErr != nil {
		return header + "\n\n" + errStyle.Render("control plane unreachable: "+m.lastErr.Error()) + "\n\n" + labelStyle.Render("q to quit")
	}
	if m.info == nil {
		return header + "\n\n" + labelStyle.Render("waiting for first poll...")
	}

	var b strings.Builder
	b.WriteString(boxStyle.Render(m.renderIdentity()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderLease()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderClients()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderStats()))
	b.WriteString("\n")
	if m.logReady {
		b.WriteString(boxStyle.Render(labelStyle.Render("frames") + "\n" + m.log.View()))
		b.WriteString("\n")
	}
	if m.streamErr != nil {
		b.WriteString(warnStyle.Render("frame stream: " + m.streamErr.Error()))
		b.WriteString("\n")
	}
	b.WriteString(labelStyle.Render("q to quit, ↑/↓ to scroll frames"))

	return header + "\n\n" + b.String()
}

func (m Model) renderIdentity() string {
	i := m.info
	stateStyle := okStyle
	if i.State != "ON_BUS" {
		stateStyle = warnStyle
	}
	return fmt.Sprintf(
		"%s %s    %s %s\n%s %d.%d.%d    %s %s\n%s %d Hz    %s %d/%d",
		labelStyle.Render("device"), valueStyle.Render(i.Name),
		labelStyle.Render("state"), stateStyle.Render(i.State),
		labelStyle.Render("firmware"), i.FirmwareMajor, i.FirmwareMinor, i.FirmwarePatch,
		labelStyle.Render("serial"), valueStyle.Render(i.Serial),
		labelStyle.Render("clock"), i.ClockHz,
		labelStyle.Render("fifo rx/tx"), i.FifoSizeRx, i.FifoSizeTx,
	)
}

func (m Model) renderLease() string {
	if m.lease == nil {
		return labelStyle.Render("lease: unknown")
	}
	if !m.lease.Held {
		return labelStyle.Render("lease: ") + okStyle.Render("free")
	}
	return labelStyle.Render("lease: ") + warnStyle.Render(fmt.Sprintf("held by client %d", m.lease.HolderID))
}

func (m Model) renderClients() string {
	if m.clients == nil || len(m.clients.Clients) == 0 {
		return labelStyle.Render("clients: none attached")
	}
	var rows []string
	rows = append(rows, labelStyle.Render(fmt.Sprintf("clients (%d):", len(m.clients.Clients))))
	for _, c := range m.clients.Clients {
		rows = append(rows, fmt.Sprintf("  #%d  lost rx=%d tx=%d status=%d err=%d",
			c.ClientID, c.LostRx, c.LostTx, c.LostStatus, c.LostError))
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderStats() string {
	if m.stats == nil {
		return labelStyle.Render("stats: unknown")
	}
	s := m.stats
	return fmt.Sprintf(
		"%s rx=%d tx=%d    %s rx=%dB tx=%dB\n%s %.1f%%    %s %.1f%% (%d/%d MiB)",
		labelStyle.Render("frames"), s.FramesRx, s.FramesTx,
		labelStyle.Render("bytes"), s.BytesRx, s.BytesTx,
		labelStyle.Render("host cpu"), s.HostCPUPct,
		labelStyle.Render("host mem"), s.HostMemPct, s.HostMemUsed/1024/1024, s.HostMemTotal/1024/1024,
	)
}

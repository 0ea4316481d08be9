// Command scan-monitor dials a running scand's control plane and runs
// the bubbletea channel dashboard (internal/tui). Grounded on
// guiperry-HASHER/cmd/cli's tea.NewProgram bootstrap, adapted from the
// chat/pipeline UI's in-process server management to a thin client of a
// separately-running daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jgressmann/supercan-go/internal/control"
	"github.com/jgressmann/supercan-go/internal/tui"
)

var (
	target    = flag.String("addr", "unix:///run/supercan/0.sock", "control plane address to dial")
	channelID = flag.String("channel", "0", "channel id to monitor, as registered with scand")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := control.Dial(ctx, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan-monitor: dial %s: %v\n", *target, err)
		os.Exit(1)
	}
	defer client.Close()

	model := tui.NewModel(client, *channelID)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "scan-monitor: %v\n", err)
		os.Exit(1)
	}
}

package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgressmann/supercan-go/internal/broker"
	"github.com/jgressmann/supercan-go/internal/control"
)

func TestFormatFrameEventCoversEveryKind(t *testing.T) {
	rx := formatFrameEvent(&control.FrameEvent{Kind: uint8(broker.ElemRX), CANID: 0x123, DLC: 2, Data: []byte{1, 2}})
	assert.Contains(t, rx, "RX")
	assert.Contains(t, rx, "123")

	status := formatFrameEvent(&control.FrameEvent{Kind: uint8(broker.ElemStatus), BusStatus: 2})
	assert.Contains(t, status, "STATUS")

	errEv := formatFrameEvent(&control.FrameEvent{Kind: uint8(broker.ElemError), ErrorCode: 5})
	assert.Contains(t, errEv, "ERROR")
}

func TestUpdateWindowSizeInitializesViewport(t *testing.T) {
	m := NewModel(nil, "0")
	updated, cmd := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	next := updated.(Model)
	assert.Nil(t, cmd)
	assert.True(t, next.logReady)
}

func TestUpdateFrameMsgAppendsToLogAndRearms(t *testing.T) {
	m := NewModel(nil, "0")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = updated.(Model)

	updated, cmd := m.Update(frameMsg{ev: &control.FrameEvent{Kind: uint8(broker.ElemRX), CANID: 0x7, DLC: 1, Data: []byte{9}}})
	m = updated.(Model)
	require.Len(t, m.frameLog, 1)
	assert.Contains(t, m.frameLog[0], "RX")
	assert.NotNil(t, cmd)
}

func TestUpdateFrameMsgErrorRecordsStreamErr(t *testing.T) {
	m := NewModel(nil, "0")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = updated.(Model)

	someErr := assertableErr{"stream closed"}
	updated, cmd := m.Update(frameMsg{err: someErr})
	m = updated.(Model)
	assert.Equal(t, someErr, m.streamErr)
	assert.Nil(t, cmd)
}

type assertableErr struct{ msg string }

func (e assertableErr) Error() string { return e.msg }

func TestUpdateRefreshMsgStoresSnapshot(t *testing.T) {
	m := NewModel(nil, "0")
	info := &control.ChannelInfoResponse{Name: "chan0", State: "ON_BUS"}
	updated, _ := m.Update(refreshMsg{info: info})
	m = updated.(Model)
	assert.Equal(t, info, m.info)
	assert.Nil(t, m.lastErr)
}

func TestUpdateQuitsOnQ(t *testing.T) {
	m := NewModel(nil, "0")
	m.logReady = true
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

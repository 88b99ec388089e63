package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/docopt/docopt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefir/liveregion/client"
	"github.com/livefir/liveregion/protocol"
)

func testClient(t *testing.T) *client.Client {
	t.Helper()
	doc, err := client.ParseDocument(strings.NewReader(
		`<body><!--live-begin: alpha--><b>one</b><!--live-end: alpha--><!--live-begin: beta--><i>two</i><!--live-end: beta--></body>`))
	require.NoError(t, err)
	return client.New(doc)
}

func TestModel_ListsRegions(t *testing.T) {
	m := newModel(testClient(t), "http://example.test/", nil, nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(model)

	view := m.View()
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "beta")
	assert.Contains(t, view, "waiting for init")
	assert.Contains(t, view, "<b>one</b>", "the first region is selected")
}

func TestModel_RecordsUpdates(t *testing.T) {
	m := newModel(testClient(t), "http://example.test/", nil, nil)

	next, _ := m.Update(updateMsg{RegionID: "alpha", Channel: protocol.ChannelInit, Outcome: client.Applied})
	m = next.(model)
	assert.True(t, m.synced)
	require.Len(t, m.log, 1)
	assert.Contains(t, m.log[0], "alpha")
	assert.Contains(t, m.View(), "synced")

	for i := 0; i < logLines+3; i++ {
		next, _ = m.Update(updateMsg{RegionID: "beta", Channel: protocol.ChannelDiffUpdate, Outcome: client.Dropped})
		m = next.(model)
	}
	assert.Len(t, m.log, logLines)
}

func TestModel_Closed(t *testing.T) {
	m := newModel(testClient(t), "http://example.test/", nil, nil)
	next, cmd := m.Update(closedMsg{})
	assert.Nil(t, cmd)
	assert.Contains(t, next.View(), "connection closed")
}

func TestModel_Quit(t *testing.T) {
	m := newModel(testClient(t), "http://example.test/", nil, nil)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		page    string
		ws      string
		codec   string
		wantErr bool
	}{
		{
			name:  "defaults",
			args:  []string{"dump", "http://localhost:8080/form"},
			page:  "http://localhost:8080/form",
			ws:    "ws://localhost:8080/live",
			codec: protocol.SubprotocolJSON,
		},
		{
			name:  "tls and cbor",
			args:  []string{"watch", "https://example.test/x?y=1", "--codec=cbor"},
			page:  "https://example.test/x?y=1",
			ws:    "wss://example.test/live",
			codec: protocol.SubprotocolCBOR,
		},
		{
			name:  "token",
			args:  []string{"dump", "http://h/", "--ws=ws://h/socket", "--token=abc"},
			page:  "http://h/?token=abc",
			ws:    "ws://h/socket?token=abc",
			codec: protocol.SubprotocolJSON,
		},
		{
			name:    "unknown codec",
			args:    []string{"dump", "http://h/", "--codec=xml"},
			wantErr: true,
		},
		{
			name:    "bad scheme",
			args:    []string{"dump", "ftp://h/"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := docopt.ParseArgs(usage, tt.args, version)
			require.NoError(t, err)

			got, err := parseTarget(opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.page, got.pageURL)
			assert.Equal(t, tt.ws, got.wsURL)
			assert.Equal(t, tt.codec, got.codec.Name())
		})
	}
}

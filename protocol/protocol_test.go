package protocol

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livefir/liveregion/diff"
)

func TestParseBoundary(t *testing.T) {
	tests := []struct {
		text string
		want Boundary
		ok   bool
	}{
		{"live-begin: A", Boundary{Kind: Begin, ID: "A"}, true},
		{"live-end: 01HZX", Boundary{Kind: End, ID: "01HZX"}, true},
		{" live-begin: counter ", Boundary{Kind: Begin, ID: "counter"}, true},
		{"live-begin:", Boundary{}, false},
		{"live-begin: a b", Boundary{}, false},
		{"just a comment", Boundary{}, false},
		{"", Boundary{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseBoundary(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestMarkersRoundTrip(t *testing.T) {
	b, ok := ParseBoundary(BeginMarker("r1"))
	require.True(t, ok)
	assert.Equal(t, Boundary{Kind: Begin, ID: "r1"}, b)

	e, ok := ParseBoundary(EndMarker("r1"))
	require.True(t, ok)
	assert.Equal(t, Boundary{Kind: End, ID: "r1"}, e)

	assert.Equal(t, "<!--live-begin: r1-->", BeginComment("r1"))
	assert.Equal(t, "<!--live-end: r1-->", EndComment("r1"))
}

func TestCodecs_DiffUpdate(t *testing.T) {
	update := DiffUpdatePayload{
		RegionID: "counter",
		Diff:     diff.Diff("<span>0</span>", "<span>1</span>"),
		FromHash: "h0",
		Hash:     "h1",
	}

	for _, codec := range Codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(ChannelDiffUpdate, update)
			require.NoError(t, err)

			frame, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ChannelDiffUpdate, frame.Channel)

			var got DiffUpdatePayload
			require.NoError(t, frame.Bind(&got))
			assert.Equal(t, update, got)
		})
	}
}

func TestCodecs_FormChangeFlattensElementInfo(t *testing.T) {
	event := FormChangeEventPayload{
		RegionID:  "form",
		EventName: "formChange",
		Sender: FormInfo{
			ElementInfo: ElementInfo{ID: "signup", NodeName: "FORM", Dataset: map[string]string{"liveChange": "formChange"}},
			Name:        "signup",
			Data:        map[string]interface{}{"email": "a@example.com"},
		},
	}

	data, err := JSON.Encode(ChannelFormChangeEvent, event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nodeName":"FORM"`)

	for _, codec := range Codecs {
		data, err := codec.Encode(ChannelFormChangeEvent, event)
		require.NoError(t, err)
		frame, err := codec.Decode(data)
		require.NoError(t, err)

		var got FormChangeEventPayload
		require.NoError(t, frame.Bind(&got))
		assert.Equal(t, "signup", got.Sender.ID)
		assert.Equal(t, "a@example.com", got.Sender.Data["email"])
	}
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("")
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, c.MessageType())

	c, err = CodecFor(SubprotocolCBOR)
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, c.MessageType())

	_, err = CodecFor("liveregion.xml")
	assert.Error(t, err)

	assert.Equal(t, []string{SubprotocolJSON, SubprotocolCBOR}, Subprotocols(Codecs...))
}

func TestDecode_RejectsMissingChannel(t *testing.T) {
	_, err := JSON.Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)

	_, err = JSON.Decode([]byte(`not json`))
	assert.Error(t, err)
}

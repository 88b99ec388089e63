// Package protocol defines the region synchronization wire format shared by the
// server and the client: channel names, payload shapes, boundary markers and codecs.
package protocol

import "github.com/livefir/liveregion/diff"

// Channel names a logical message stream on the connection.
type Channel string

const (
	ChannelReady           Channel = "ready"           // C→S
	ChannelInit            Channel = "init"            // S→C
	ChannelFullUpdate      Channel = "fullUpdate"      // S→C
	ChannelDiffUpdate      Channel = "diffUpdate"      // S→C
	ChannelClickEvent      Channel = "clickEvent"      // C→S
	ChannelFormChangeEvent Channel = "formChangeEvent" // C→S
	ChannelDesync          Channel = "desync"          // C→S
)

// EditScript is the compact Insert/Equal/Delete script carried by diff updates.
type EditScript = diff.Script

// ReadyPayload announces the region ids the client found in its markup.
type ReadyPayload struct {
	RegionIDs []string `json:"regionIds" cbor:"regionIds"`
}

// RegionState is the {source, hash} pair for one region.
type RegionState struct {
	Source string `json:"source" cbor:"source"`
	Hash   string `json:"hash" cbor:"hash"`
}

// InitPayload answers ready with the current state of every known region.
type InitPayload struct {
	Regions map[string]RegionState `json:"regions" cbor:"regions"`
}

// FullUpdatePayload replaces a region's mirrored state unconditionally.
type FullUpdatePayload struct {
	RegionID string `json:"regionId" cbor:"regionId"`
	Source   string `json:"source" cbor:"source"`
	Hash     string `json:"hash" cbor:"hash"`
}

// DiffUpdatePayload is only meaningful to a receiver whose mirrored hash equals FromHash.
type DiffUpdatePayload struct {
	RegionID string     `json:"regionId" cbor:"regionId"`
	Diff     EditScript `json:"diff" cbor:"diff"`
	FromHash string     `json:"fromHash" cbor:"fromHash"`
	Hash     string     `json:"hash" cbor:"hash"`
}

// DesyncPayload asks the server for a full update of one region.
type DesyncPayload struct {
	RegionID string `json:"regionId" cbor:"regionId"`
}

// ElementInfo is a lightweight snapshot of the element that triggered an event.
type ElementInfo struct {
	ID       string            `json:"id" cbor:"id"`
	Dataset  map[string]string `json:"dataset" cbor:"dataset"`
	NodeName string            `json:"nodeName" cbor:"nodeName"`
}

// FormInfo extends ElementInfo with the serialized form controls. A field holds a
// string, or a []string when the name occurs more than once (multi-selects,
// checkbox groups).
type FormInfo struct {
	ElementInfo
	Name string                 `json:"name" cbor:"name"`
	Data map[string]interface{} `json:"data" cbor:"data"`
}

// ClickEventPayload is sent when a click-bound element is activated.
type ClickEventPayload struct {
	RegionID  string      `json:"regionId" cbor:"regionId"`
	EventName string      `json:"eventName" cbor:"eventName"`
	Sender    ElementInfo `json:"sender" cbor:"sender"`
}

// FormChangeEventPayload is sent when a change-bound form or control changes.
type FormChangeEventPayload struct {
	RegionID  string   `json:"regionId" cbor:"regionId"`
	EventName string   `json:"eventName" cbor:"eventName"`
	Sender    FormInfo `json:"sender" cbor:"sender"`
}

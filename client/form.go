package client

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/livefir/liveregion/protocol"
)

// ElementInfo snapshots the element that triggered an event
func ElementInfo(n *html.Node) protocol.ElementInfo {
	info := protocol.ElementInfo{
		ID:       attr(n, "id"),
		Dataset:  make(map[string]string),
		NodeName: strings.ToUpper(n.Data),
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.HasPrefix(a.Key, "data-") {
			info.Dataset[datasetKey(strings.TrimPrefix(a.Key, "data-"))] = a.Val
		}
	}
	return info
}

// datasetKey converts an attribute suffix to its dataset name: item-id → itemId
func datasetKey(s string) string {
	parts := strings.Split(s, "-")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

// FormInfo snapshots a form, or the form owning a control, with its data set.
// A control outside any form contributes just its own value.
func (d *Document) FormInfo(n *html.Node) protocol.FormInfo {
	form := closest(n, atom.Form)
	if form == nil {
		info := protocol.FormInfo{ElementInfo: ElementInfo(n), Name: attr(n, "name"), Data: map[string]interface{}{}}
		if name := attr(n, "name"); name != "" && submittable(n) {
			for _, v := range d.controlValues(n) {
				appendField(info.Data, name, v)
			}
		}
		return info
	}
	return protocol.FormInfo{
		ElementInfo: ElementInfo(form),
		Name:        attr(form, "name"),
		Data:        d.SerializeForm(form),
	}
}

// SerializeForm builds the form data set. Disabled controls, controls inside a
// disabled fieldset, buttons and unnamed controls are skipped; checkboxes and
// radios count only when checked; selects contribute their selected options;
// textarea line endings are normalized to CRLF. Repeated names collect into a
// []string.
func (d *Document) SerializeForm(form *html.Node) map[string]interface{} {
	data := make(map[string]interface{})
	walkElements(form, func(n *html.Node) bool {
		if n != form && n.DataAtom == atom.Form {
			return true
		}
		name := attr(n, "name")
		if name == "" || !submittable(n) || disabled(n) {
			return true
		}
		for _, v := range d.controlValues(n) {
			appendField(data, name, v)
		}
		return true
	})
	return data
}

func submittable(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "submit", "button", "reset", "image", "file":
			return false
		}
		return true
	case atom.Select, atom.Textarea:
		return true
	}
	return false
}

func disabled(n *html.Node) bool {
	if hasAttr(n, "disabled") {
		return true
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.DataAtom == atom.Fieldset && hasAttr(p, "disabled") {
			return true
		}
	}
	return false
}

func (d *Document) controlValues(n *html.Node) []string {
	switch n.DataAtom {
	case atom.Select:
		var values []string
		for _, opt := range d.Selected(n) {
			if !hasAttr(opt, "disabled") {
				values = append(values, optionValue(opt))
			}
		}
		return values
	case atom.Textarea:
		return []string{normalizeNewlines(d.Value(n))}
	}

	switch strings.ToLower(attr(n, "type")) {
	case "checkbox", "radio":
		if !d.Checked(n) {
			return nil
		}
		if hasAttr(n, "value") {
			return []string{attr(n, "value")}
		}
		return []string{"on"}
	}
	return []string{d.Value(n)}
}

func appendField(data map[string]interface{}, name, value string) {
	switch prev := data[name].(type) {
	case nil:
		data[name] = value
	case string:
		data[name] = []string{prev, value}
	case []string:
		data[name] = append(prev, value)
	}
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

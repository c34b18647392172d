// Package event defines the decoded-message shape the EMM analyzers
// consume and the dispatch contract that feeds it to them. Decoding
// from a raw capture into this shape is an external concern; this
// package only defines the wire between the decoder and the analyzers.
package event

import (
	"strings"
	"time"
)

// TypeID identifies the decoded log stream a Message was produced
// from. Only these three streams carry information the core cares
// about.
type TypeID string

const (
	EMMIncomingNAS TypeID = "LTE_NAS_EMM_OTA_Incoming_Packet"
	EMMOutgoingNAS TypeID = "LTE_NAS_EMM_OTA_Outgoing_Packet"
	RRCOTA         TypeID = "LTE_RRC_OTA_Packet"
)

// Field is a tagged-variant payload tree node: a named value with a
// numeric/textual discriminator (Show), a human-readable rendering
// (Showname), and ordered descendants. It models the decoded field
// tree a NAS/RRC dissector produces, flattened so the IE-diff and
// rule-matching code below never special-cases depth.
type Field struct {
	Name     string   `json:"name"`
	Show     string   `json:"show"`
	Showname string   `json:"showname"`
	Children []*Field `json:"children,omitempty"`
}

// Descendants returns every node in the subtree rooted at f, self
// included, in document order.
func (f *Field) Descendants() []*Field {
	if f == nil {
		return nil
	}
	out := make([]*Field, 0, 1+len(f.Children))
	out = append(out, f)
	for _, c := range f.Children {
		out = append(out, c.Descendants()...)
	}
	return out
}

// FindByName returns the first descendant (self included) whose Name
// matches, or nil if the tree is nil or has no such field.
func (f *Field) FindByName(name string) *Field {
	for _, d := range f.Descendants() {
		if d.Name == name {
			return d
		}
	}
	return nil
}

// FindAllByName returns every descendant (self included) whose Name
// matches.
func (f *Field) FindAllByName(name string) []*Field {
	var out []*Field
	for _, d := range f.Descendants() {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// FindByShow returns the first descendant (self included) whose Show
// value matches.
func (f *Field) FindByShow(show string) *Field {
	for _, d := range f.Descendants() {
		if d.Show == show {
			return d
		}
	}
	return nil
}

// AnyShownameContains reports whether any descendant (self included)
// has a Showname containing substr.
func (f *Field) AnyShownameContains(substr string) bool {
	for _, d := range f.Descendants() {
		if strings.Contains(d.Showname, substr) {
			return true
		}
	}
	return false
}

// Message is a decoded event, immutable once constructed.
type Message struct {
	TypeID    TypeID    `json:"type_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   *Field    `json:"payload"`
}

// EMMType returns the show value of nas_eps.nas_msg_emm_type, the
// discriminator every EMM message-type rule keys on, and whether that
// field was present at all.
func (m *Message) EMMType() (string, bool) {
	if m == nil || m.Payload == nil {
		return "", false
	}
	f := m.Payload.FindByName("nas_eps.nas_msg_emm_type")
	if f == nil {
		return "", false
	}
	return f.Show, true
}

// EMMCause returns the show value of nas_eps.emm.cause, if present.
func (m *Message) EMMCause() (string, bool) {
	if m == nil || m.Payload == nil {
		return "", false
	}
	f := m.Payload.FindByName("nas_eps.emm.cause")
	if f == nil {
		return "", false
	}
	return f.Show, true
}

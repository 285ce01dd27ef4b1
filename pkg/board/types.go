package board

import (
	"strings"
)

// Message kinds used on the wire.
const (
	TypeChat              = "chat"
	TypeColor             = "color"
	TypeHistory           = "history"
	TypeGetCanvas         = "getCanvas"
	TypeError             = "error"
	TypeCanvasUnavailable = "canvasUnavailable"
)

// System author identity for join and leave notices.
const (
	SystemAuthor = "system"
	SystemColor  = "black"
)

// Error texts sent back to a client.
const (
	ErrTextInvalidJSON = "Invalid JSON"
	ErrTextNoColor     = "No color available"
)

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
)

// Escape replaces the HTML metacharacters & < > and " with entities.
// Single quotes are left alone.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Envelope is the unit every client receives for a broadcast.
type Envelope struct {
	Type   string `json:"type"`
	Time   int64  `json:"time"`
	Text   string `json:"text"`
	Author string `json:"author"`
	Color  string `json:"color"`
}

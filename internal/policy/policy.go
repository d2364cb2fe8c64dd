// Package policy implements the content gate shared by every text-producing
// path: chat messages, Telegram relays and, outside this repository, public
// posts. Validation is pure and deterministic.
package policy

import (
	"regexp"
	"strings"
)

// Reason identifies which rule rejected a text.
type Reason string

const (
	ReasonNone    Reason = ""
	ReasonLink    Reason = "link"
	ReasonKeyword Reason = "keyword"
)

// Result is the outcome of Validate.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
}

var linkPattern = regexp.MustCompile(`(?i)(https?://|www\.)`)

// DefaultKeywords is the solicitation blocklist. Matching is a
// case-insensitive substring test.
var DefaultKeywords = []string{
	// external contact handles
	"line.me", "line id", "line id:", "line：", "line:", "加line", "加 line",
	"telegram", "tg", "tg:", "tg：",
	// add / DM / PM me
	"加我", "私訊", "私聊", "私我", "密我", "pm我",
	// investment and easy money
	"投資", "賺錢", "獲利", "高報酬", "穩賺",
	"兼職", "在家工作", "輕鬆賺",
	// loans
	"貸款", "借貸", "信用",
	// click here
	"點擊", "點我", "點這裡",
}

// Gate validates text against the link rule and a keyword blocklist.
// A Gate is immutable after construction and safe for concurrent use.
type Gate struct {
	keywords []string
}

// NewGate builds a gate from the default blocklist plus extra keywords.
// Blank extras are ignored.
func NewGate(extra ...string) *Gate {
	kw := make([]string, 0, len(DefaultKeywords)+len(extra))
	for _, k := range append(append([]string(nil), DefaultKeywords...), extra...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		kw = append(kw, k)
	}
	return &Gate{keywords: kw}
}

var defaultGate = NewGate()

// Validate runs the default gate.
func Validate(text string) Result {
	return defaultGate.Validate(text)
}

// Validate applies the rules in order; the first match wins.
func (g *Gate) Validate(text string) Result {
	if linkPattern.MatchString(text) {
		return Result{Reason: ReasonLink}
	}
	lower := strings.ToLower(text)
	for _, k := range g.keywords {
		if strings.Contains(lower, k) {
			return Result{Reason: ReasonKeyword}
		}
	}
	return Result{Allowed: true}
}

package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Event names.
const (
	EventTradeOpened         = "trade_opened"
	EventTradeClosed         = "trade_closed"
	EventTradeFailed         = "trade_failed"
	EventCapacityExceeded    = "capacity_exceeded"
	EventSubmissionExhausted = "submission_exhausted"
	EventStuckPosition       = "stuck_position"
	EventNeedsReview         = "position_needs_review"
)

// Severity orders alerts. Critical alerts bypass event filtering.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	}
	return "info"
}

// Field is one labelled line of an alert.
type Field struct {
	Name  string
	Value string
}

// Message is a structured alert.
type Message struct {
	Event    string
	Severity Severity
	Title    string
	Fields   []Field
}

// Text renders the fields as "name: value" lines.
func (m Message) Text() string {
	var b strings.Builder
	for i, f := range m.Fields {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", f.Name, f.Value)
	}
	return b.String()
}

func positionFields(p domain.Position) []Field {
	return []Field{
		{"mint", p.Mint.String()},
		{"position", p.ID},
		{"venue", string(p.Venue)},
	}
}

// TradeOpened reports a confirmed buy.
func TradeOpened(p domain.Position) Message {
	return Message{
		Event:    EventTradeOpened,
		Severity: SeverityInfo,
		Title:    "Position opened",
		Fields: append(positionFields(p),
			Field{"quantity", p.Tokens().String()},
			Field{"entry_price", p.EntryPrice.String() + " SOL"},
			Field{"cost", p.CostBasis.StringFixed(6) + " SOL"},
		),
	}
}

// TradeClosed reports a confirmed sell and its realized PnL.
func TradeClosed(p domain.Position) Message {
	return Message{
		Event:    EventTradeClosed,
		Severity: SeverityInfo,
		Title:    "Position closed",
		Fields: append(positionFields(p),
			Field{"reason", string(p.CloseReason)},
			Field{"exit_value", p.ExitValue.StringFixed(6) + " SOL"},
			Field{"pnl", p.RealizedPnL.StringFixed(6) + " SOL"},
		),
	}
}

// TradeFailed reports a buy that never filled.
func TradeFailed(p domain.Position) Message {
	return Message{
		Event:    EventTradeFailed,
		Severity: SeverityWarning,
		Title:    "Buy failed",
		Fields: append(positionFields(p),
			Field{"requested", domain.SOL(p.Requested).String() + " SOL"},
			Field{"error", p.LastError},
		),
	}
}

// CapacityExceeded reports a buy rejected at the concurrency cap.
func CapacityExceeded(intent domain.TradeIntent, limit int) Message {
	return Message{
		Event:    EventCapacityExceeded,
		Severity: SeverityWarning,
		Title:    "Buy rejected: at capacity",
		Fields: []Field{
			{"mint", intent.Mint.String()},
			{"requested", domain.SOL(intent.Amount).String() + " SOL"},
			{"limit", fmt.Sprint(limit)},
		},
	}
}

// SubmissionExhausted reports a transition whose retries ran out while
// every relay path was rejecting its transactions.
func SubmissionExhausted(p domain.Position, side domain.Side, attempts int) Message {
	return Message{
		Event:    EventSubmissionExhausted,
		Severity: SeverityWarning,
		Title:    "Submission rejected on every path",
		Fields: append(positionFields(p),
			Field{"side", string(side)},
			Field{"attempts", fmt.Sprint(attempts)},
			Field{"error", p.LastError},
		),
	}
}

// StuckPosition reports a position whose sell could not land. Capital is
// still in the token and needs an operator.
func StuckPosition(p domain.Position) Message {
	return Message{
		Event:    EventStuckPosition,
		Severity: SeverityCritical,
		Title:    "STUCK POSITION: manual intervention required",
		Fields: append(positionFields(p),
			Field{"quantity", p.Tokens().String()},
			Field{"cost", p.CostBasis.StringFixed(6) + " SOL"},
			Field{"error", p.LastError},
		),
	}
}

// NeedsReview reports a position restored in the middle of a buy or sell.
// Whether that transaction landed is unknown, so the engine leaves the
// position alone.
func NeedsReview(p domain.Position) Message {
	return Message{
		Event:    EventNeedsReview,
		Severity: SeverityCritical,
		Title:    "Position restored mid-transition: review required",
		Fields: append(positionFields(p),
			Field{"status", string(p.Status)},
			Field{"effect", "the token stays locked and the position holds a concurrency slot until an operator resolves it"},
			Field{"last_error", p.LastError},
		),
	}
}

package stockfighter

import (
	"log/slog"
	"net/url"
	"strings"
	"time"

	"stockpurse/internal/domain"
)

// TapeURL is the tickertape stream for one stock.
func TapeURL(wsBase, account string, inst domain.Instrument) string {
	return strings.TrimRight(wsBase, "/") + "/" + url.PathEscape(account) +
		"/venues/" + url.PathEscape(inst.Venue) + "/tickertape/stocks/" + url.PathEscape(inst.Symbol)
}

// ExecutionsURL is the fill stream for one account and stock.
func ExecutionsURL(wsBase, account string, inst domain.Instrument) string {
	return strings.TrimRight(wsBase, "/") + "/" + url.PathEscape(account) +
		"/venues/" + url.PathEscape(inst.Venue) + "/executions/stocks/" + url.PathEscape(inst.Symbol)
}

type tapeMessage struct {
	OK    bool          `json:"ok"`
	Quote *domain.Quote `json:"quote"`
}

// Execution is one fill report from the executions stream. Order is the
// full state of this account's order after the fill.
type Execution struct {
	OK               bool                 `json:"ok"`
	Account          string               `json:"account"`
	Venue            string               `json:"venue"`
	Symbol           string               `json:"symbol"`
	Order            domain.OrderResponse `json:"order"`
	StandingID       domain.OrderID       `json:"standingId"`
	IncomingID       domain.OrderID       `json:"incomingId"`
	Price            int64                `json:"price"`
	Filled           int64                `json:"filled"`
	FilledAt         time.Time            `json:"filledAt"`
	StandingComplete bool                 `json:"standingComplete"`
	IncomingComplete bool                 `json:"incomingComplete"`
}

// TapeWorker streams quotes for one stock.
type TapeWorker struct {
	*feed
	onQuote func(*domain.Quote)
}

var _ domain.FeedWorker = (*TapeWorker)(nil)

// NewTapeWorker factory
func NewTapeWorker(wsBase, account string, inst domain.Instrument, onQuote func(*domain.Quote)) *TapeWorker {
	w := &TapeWorker{onQuote: onQuote}
	w.feed = newFeed("tape", TapeURL(wsBase, account, inst), w.handleMessage)
	return w
}

func (w *TapeWorker) handleMessage(msg []byte) {
	var m tapeMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		w.logger.Debug("Undecodable tape message", slog.Any("error", err))
		return
	}
	if !m.OK || m.Quote == nil {
		return
	}
	w.onQuote(m.Quote)
}

// ExecutionsWorker streams fill reports for one account and stock.
type ExecutionsWorker struct {
	*feed
	onExecution func(*Execution)
}

var _ domain.FeedWorker = (*ExecutionsWorker)(nil)

// NewExecutionsWorker factory
func NewExecutionsWorker(wsBase, account string, inst domain.Instrument, onExecution func(*Execution)) *ExecutionsWorker {
	w := &ExecutionsWorker{onExecution: onExecution}
	w.feed = newFeed("executions", ExecutionsURL(wsBase, account, inst), w.handleMessage)
	return w
}

func (w *ExecutionsWorker) handleMessage(msg []byte) {
	var ex Execution
	if err := json.Unmarshal(msg, &ex); err != nil {
		w.logger.Debug("Undecodable execution message", slog.Any("error", err))
		return
	}
	if !ex.OK || ex.Order.ID == 0 {
		return
	}
	w.onExecution(&ex)
}

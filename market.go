package kstock

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MarketReconciler merges REST snapshots and push deltas into one
// in-memory view of the market: the instrument list, the focused
// instrument's price and orderbook, and the portfolio valuation.
//
// All mutation happens under one mutex and change callbacks run
// synchronously, so frames are applied strictly in arrival order.
type MarketReconciler struct {
	mu     sync.RWMutex
	logger *zap.Logger

	stocks     []StockQuote
	stockIndex map[string]int

	selectedCode string
	selected     *SelectedPrice
	orderbook    *OrderbookSnapshot

	holdings     []Holding
	holdingIndex map[string]int
	account      AccountSnapshot

	onChange []func()
}

// NewMarketReconciler creates an empty reconciler.
func NewMarketReconciler(logger *zap.Logger) *MarketReconciler {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	return &MarketReconciler{
		logger:       logger,
		stockIndex:   make(map[string]int),
		holdingIndex: make(map[string]int),
	}
}

// OnChange registers a callback invoked after every applied mutation.
func (r *MarketReconciler) OnChange(callback func()) {
	r.mu.Lock()
	r.onChange = append(r.onChange, callback)
	r.mu.Unlock()
}

func (r *MarketReconciler) notify() {
	r.mu.RLock()
	callbacks := r.onChange
	r.mu.RUnlock()
	for _, cb := range callbacks {
		cb()
	}
}

// SetStocks replaces the instrument list from a REST snapshot.
func (r *MarketReconciler) SetStocks(stocks []StockQuote) {
	r.mu.Lock()
	r.stocks = make([]StockQuote, len(stocks))
	copy(r.stocks, stocks)
	r.stockIndex = make(map[string]int, len(stocks))
	for i, s := range r.stocks {
		r.stockIndex[s.Code] = i
	}
	r.mu.Unlock()
	r.notify()
}

// SelectStock moves the focus to code. Changing focus discards the
// previous SelectedPrice and orderbook; they belong to the old code.
func (r *MarketReconciler) SelectStock(code string) {
	r.mu.Lock()
	if r.selectedCode == code {
		r.mu.Unlock()
		return
	}
	r.selectedCode = code
	r.selected = nil
	r.orderbook = nil
	r.mu.Unlock()
	r.notify()
}

// SelectedCode returns the currently focused code, empty when none.
func (r *MarketReconciler) SelectedCode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectedCode
}

// ApplyPriceUpdate projects one price delta into up to three places:
// the focused SelectedPrice, the instrument list row, and the matching
// holding with its valuation chain.
func (r *MarketReconciler) ApplyPriceUpdate(pu PriceUpdate) {
	r.mu.Lock()
	touched := false

	if pu.Code == r.selectedCode && r.selectedCode != "" {
		r.selected = &SelectedPrice{
			Code:       pu.Code,
			Price:      pu.Price,
			Change:     pu.Change,
			ChangeRate: pu.ChangeRate,
			Volume:     pu.Volume,
			High:       pu.High,
			Low:        pu.Low,
			Open:       pu.Open,
			PrevClose:  pu.Price - pu.Change,
			Time:       pu.Time,
		}
		touched = true
	}

	if i, ok := r.stockIndex[pu.Code]; ok {
		r.stocks[i].Price = pu.Price
		r.stocks[i].Change = pu.Change
		r.stocks[i].ChangeRate = pu.ChangeRate
		touched = true
	}

	if j, ok := r.holdingIndex[pu.Code]; ok {
		r.holdings[j].CurrentPrice = pu.Price
		recomputeHolding(&r.holdings[j])
		r.recomputeAccountLocked()
		touched = true
	}

	r.mu.Unlock()
	if touched {
		r.notify()
	}
}

// ApplyOrderbook replaces the focused orderbook. Frames for any other
// code are dropped.
func (r *MarketReconciler) ApplyOrderbook(ou OrderbookUpdate) {
	r.mu.Lock()
	if ou.Code != r.selectedCode || r.selectedCode == "" {
		r.mu.Unlock()
		r.logger.Debug("dropping orderbook for unfocused code", zap.String("code", ou.Code))
		return
	}
	r.orderbook = &OrderbookSnapshot{
		Code: ou.Code,
		Asks: levelize(ou.Asks),
		Bids: levelize(ou.Bids),
	}
	r.mu.Unlock()
	r.notify()
}

// levelize sorts levels descending by price, keeps the top ten and
// accumulates volume in that order.
func levelize(levels []OrderbookLevel) []OrderbookLevel {
	out := make([]OrderbookLevel, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Price > out[j].Price
	})
	if len(out) > 10 {
		out = out[:10]
	}
	var cum int64
	for i := range out {
		cum += out[i].Volume
		out[i].CumVolume = cum
	}
	return out
}

// ApplyRestPrice reconciles a REST-fetched quote against push state.
// Push wins when both report the same price; the REST payload is only
// applied when its price actually differs, so a quote bootstrapped over
// REST cannot clobber a fresher push frame carrying the same price.
func (r *MarketReconciler) ApplyRestPrice(sp *SelectedPrice) {
	if sp == nil {
		return
	}
	r.mu.Lock()
	if sp.Code != r.selectedCode {
		r.mu.Unlock()
		return
	}
	if r.selected != nil && r.selected.Price == sp.Price {
		r.mu.Unlock()
		return
	}
	cp := *sp
	if cp.PrevClose == 0 {
		cp.PrevClose = cp.Price - cp.Change
	}
	r.selected = &cp
	r.mu.Unlock()
	r.notify()
}

// SetPortfolio replaces the holdings and account from a REST snapshot
// and recomputes every derived field.
func (r *MarketReconciler) SetPortfolio(account AccountSnapshot, holdings []Holding) {
	r.mu.Lock()
	r.holdings = make([]Holding, len(holdings))
	copy(r.holdings, holdings)
	r.holdingIndex = make(map[string]int, len(holdings))
	for i := range r.holdings {
		r.holdingIndex[r.holdings[i].Code] = i
		recomputeHolding(&r.holdings[i])
	}
	r.account = account
	if r.account.InitialCapital == 0 {
		r.account.InitialCapital = DefaultInitialCapital
	}
	r.recomputeAccountLocked()
	r.mu.Unlock()
	r.notify()
}

// recomputeHolding refreshes the valuation fields from quantity,
// average price and current price.
func recomputeHolding(h *Holding) {
	h.TotalValue = h.CurrentPrice * h.Quantity
	cost := h.AvgPrice * h.Quantity
	h.Profit = h.TotalValue - cost
	if cost > 0 {
		h.ProfitRate = Round2(float64(h.Profit) / float64(cost) * 100)
	} else {
		h.ProfitRate = 0
	}
}

func (r *MarketReconciler) recomputeAccountLocked() {
	var evaluated int64
	for i := range r.holdings {
		evaluated += r.holdings[i].TotalValue
	}
	r.account.TotalAsset = r.account.Balance + evaluated
	r.account.TotalProfit = r.account.TotalAsset - r.account.InitialCapital
	if r.account.InitialCapital > 0 {
		r.account.TotalProfitRate = Round2(float64(r.account.TotalProfit) / float64(r.account.InitialCapital) * 100)
	} else {
		r.account.TotalProfitRate = 0
	}
}

// Stocks returns a copy of the instrument list.
func (r *MarketReconciler) Stocks() []StockQuote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StockQuote, len(r.stocks))
	copy(out, r.stocks)
	return out
}

// Selected returns a copy of the focused quote, nil when none arrived yet.
func (r *MarketReconciler) Selected() *SelectedPrice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == nil {
		return nil
	}
	cp := *r.selected
	return &cp
}

// Orderbook returns a copy of the focused orderbook, nil when none.
func (r *MarketReconciler) Orderbook() *OrderbookSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.orderbook == nil {
		return nil
	}
	cp := OrderbookSnapshot{
		Code: r.orderbook.Code,
		Asks: append([]OrderbookLevel(nil), r.orderbook.Asks...),
		Bids: append([]OrderbookLevel(nil), r.orderbook.Bids...),
	}
	return &cp
}

// Holdings returns a copy of the holdings.
func (r *MarketReconciler) Holdings() []Holding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Holding, len(r.holdings))
	copy(out, r.holdings)
	return out
}

// Account returns the account snapshot.
func (r *MarketReconciler) Account() AccountSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account
}

package models

// Account is the trading account snapshot, wholly replaced on each query.
type Account struct {
	Balance   float64 `json:"balance"`
	Margin    float64 `json:"margin"`
	Available float64 `json:"available"`
	Profit    float64 `json:"profit"`
}

// Order is the caller's view of one exchange order. Keyed externally by
// "{OrderSysID}@{Code}". Volume is signed: positive opens, negative closes.
type Order struct {
	Code          string  `json:"code"`
	Direction     string  `json:"direction"`
	Price         float64 `json:"price"`
	Volume        int     `json:"volume"`
	InsertTime    string  `json:"insert_time"`
	CancelTime    string  `json:"cancel_time"`
	ActiveTime    string  `json:"active_time"`
	UpdateTime    string  `json:"update_time"`
	OffsetFlag    string  `json:"comb_offset_flag"`
	VolumeTraded  int     `json:"volume_traded"`
	IsActive      bool    `json:"is_active"`
	DecimalPlaces int     `json:"decimal_places,omitempty"`
}

// Trade is one execution, immutable once recorded. Keyed externally by
// "{TradeID}@{Code}".
type Trade struct {
	Code          string  `json:"code"`
	Direction     string  `json:"direction"`
	OrderSysID    string  `json:"order_id"`
	Price         float64 `json:"price"`
	Volume        int     `json:"volume"`
	TradeDate     string  `json:"trade_date"`
	TradeTime     string  `json:"trade_time"`
	DecimalPlaces int     `json:"decimal_places,omitempty"`
}

// Position is one (instrument, direction) holding, wholly replaced on each
// query from the gateway's full snapshot.
type Position struct {
	Code            string  `json:"code"`
	Direction       string  `json:"direction"`
	Volume          int     `json:"volume"`
	Margin          float64 `json:"margin"`
	Cost            float64 `json:"cost"`
	PositionDate    string  `json:"position_date"`
	YdPosition      int     `json:"yd_position"`
	TodayPosition   int     `json:"today_position"`
	LongFrozen      int     `json:"long_frozen"`
	ShortFrozen     int     `json:"short_frozen"`
	OpenVolume      int     `json:"open_volume"`
	CloseVolume     int     `json:"close_volume"`
	SettlementPrice float64 `json:"settlement_price"`
	PositionProfit  float64 `json:"position_profit"`
	Profit          float64 `json:"profit"`
	OpenCostPrice   float64 `json:"open_cost_price"`
	DecimalPlaces   int     `json:"decimal_places,omitempty"`
}

// OrderResult is the outcome of a submission. Exactly one of the fields is
// meaningful depending on the order class: immediate-or-cancel orders report
// TradedVolume, good-for-day orders report OrderID.
type OrderResult struct {
	OrderID      string `json:"order_id,omitempty"`
	TradedVolume int    `json:"volume_traded"`
}

// CancelResult reports the terminal status observed for a cancel request.
type CancelResult struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

package models

// Level is one bid or ask price level with its size. Price is nil when the
// gateway reported the absent-value sentinel for that level.
type Level struct {
	Price  *float64 `json:"price"`
	Volume int      `json:"volume"`
}

// Tick is the latest market snapshot of one instrument. Overwritten in
// place on every market-data push; only the newest tick per code is kept.
type Tick struct {
	TradeTime       string   `json:"trade_time"`
	UpdateSec       int      `json:"update_sec"`
	Code            string   `json:"code"`
	Price           *float64 `json:"price"`
	Open            *float64 `json:"open"`
	Close           *float64 `json:"close"`
	Highest         *float64 `json:"highest"`
	Lowest          *float64 `json:"lowest"`
	UpperLimit      *float64 `json:"upper_limit"`
	LowerLimit      *float64 `json:"lower_limit"`
	Settlement      *float64 `json:"settlement"`
	Volume          int64    `json:"volume"`
	Turnover        float64  `json:"turnover"`
	OpenInterest    int64    `json:"open_interest"`
	PreClose        *float64 `json:"pre_close"`
	PreSettlement   *float64 `json:"pre_settlement"`
	PreOpenInterest int64    `json:"pre_open_interest"`
	Ask1            Level    `json:"ask1"`
	Bid1            Level    `json:"bid1"`
	Ask2            Level    `json:"ask2"`
	Bid2            Level    `json:"bid2"`
	Ask3            Level    `json:"ask3"`
	Bid3            Level    `json:"bid3"`
	Ask4            Level    `json:"ask4"`
	Bid4            Level    `json:"bid4"`
	Ask5            Level    `json:"ask5"`
	Bid5            Level    `json:"bid5"`
}

// LevelByName returns the level for names like "bid1" or "ask3". The second
// return is false for unknown names.
func (t *Tick) LevelByName(name string) (Level, bool) {
	switch name {
	case "bid1":
		return t.Bid1, true
	case "bid2":
		return t.Bid2, true
	case "bid3":
		return t.Bid3, true
	case "bid4":
		return t.Bid4, true
	case "bid5":
		return t.Bid5, true
	case "ask1":
		return t.Ask1, true
	case "ask2":
		return t.Ask2, true
	case "ask3":
		return t.Ask3, true
	case "ask4":
		return t.Ask4, true
	case "ask5":
		return t.Ask5, true
	default:
		return Level{}, false
	}
}

package gateway

// Wire flag values of the front protocol. Single-character strings, as the
// exchange API defines them.
const (
	DirectionBuy  = "0"
	DirectionSell = "1"

	OffsetOpen  = "0"
	OffsetClose = "1"

	PriceTypeAny       = "1"
	PriceTypeLimit     = "2"
	PriceTypeFiveLevel = "G"

	TimeConditionIOC = "1"
	TimeConditionGFD = "3"

	VolumeConditionAny = "1"
	VolumeConditionMin = "2"

	HedgeSpeculation      = "1"
	ContingentImmediately = "1"
	ForceCloseNotForced   = "0"

	ActionFlagDelete = "0"

	OrderStatusAllTraded = "0"
	OrderStatusCanceled  = "5"
	OrderStatusUnknown   = "a"

	SubmitStatusInsertSubmitted = "0"
	SubmitStatusAccepted        = "3"
	SubmitStatusInsertRejected  = "4"
	SubmitStatusCancelRejected  = "5"

	OptionsTypeCall = "1"
	OptionsTypePut  = "2"

	PosiDirectionLong  = "2"
	PosiDirectionShort = "3"
)

// AuthenticateReq starts the terminal authentication of a trade session.
type AuthenticateReq struct {
	BrokerID string `json:"broker_id"`
	AppID    string `json:"app_id"`
	AuthCode string `json:"auth_code"`
	UserID   string `json:"user_id"`
}

// LoginReq logs a user in. The quote front accepts an empty login.
type LoginReq struct {
	BrokerID string `json:"broker_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Password string `json:"password,omitempty"`
}

// LoginRsp carries the identity pair assigned by the front on login.
type LoginRsp struct {
	FrontID   int `json:"front_id"`
	SessionID int `json:"session_id"`
}

// SettlementConfirmReq confirms the daily settlement statement.
type SettlementConfirmReq struct {
	BrokerID   string `json:"broker_id"`
	InvestorID string `json:"investor_id"`
}

// QryInstrumentReq requests the full instrument universe (paginated reply).
type QryInstrumentReq struct{}

// InstrumentField is one instrument of the paginated universe reply.
type InstrumentField struct {
	InstrumentID     string  `json:"instrument_id"`
	InstrumentName   string  `json:"instrument_name"`
	ExchangeID       string  `json:"exchange_id"`
	VolumeMultiple   int     `json:"volume_multiple"`
	PriceTick        float64 `json:"price_tick"`
	ExpireDate       string  `json:"expire_date"`
	LongMarginRatio  float64 `json:"long_margin_ratio"`
	ShortMarginRatio float64 `json:"short_margin_ratio"`
	OptionsType      string  `json:"options_type"`
	StrikePrice      float64 `json:"strike_price"`
	IsTrading        int     `json:"is_trading"`
}

// QryAccountReq requests the trading account snapshot.
type QryAccountReq struct {
	BrokerID   string `json:"broker_id"`
	InvestorID string `json:"investor_id"`
	CurrencyID string `json:"currency_id"`
	BizType    string `json:"biz_type"`
}

// AccountField is the trading account snapshot payload.
type AccountField struct {
	Balance        float64 `json:"balance"`
	CurrMargin     float64 `json:"curr_margin"`
	Available      float64 `json:"available"`
	PositionProfit float64 `json:"position_profit"`
}

// QryOrderReq requests all of today's orders (paginated reply).
type QryOrderReq struct {
	BrokerID   string `json:"broker_id"`
	InvestorID string `json:"investor_id"`
}

// OrderField is one order, delivered both by the order query and by the
// private order return stream.
type OrderField struct {
	InstrumentID        string  `json:"instrument_id"`
	ExchangeID          string  `json:"exchange_id"`
	OrderSysID          string  `json:"order_sys_id"`
	OrderRef            string  `json:"order_ref"`
	FrontID             int     `json:"front_id"`
	SessionID           int     `json:"session_id"`
	Direction           string  `json:"direction"`
	CombOffsetFlag      string  `json:"comb_offset_flag"`
	OrderStatus         string  `json:"order_status"`
	OrderSubmitStatus   string  `json:"order_submit_status"`
	TimeCondition       string  `json:"time_condition"`
	LimitPrice          float64 `json:"limit_price"`
	VolumeTotalOriginal int     `json:"volume_total_original"`
	VolumeTraded        int     `json:"volume_traded"`
	InsertTime          string  `json:"insert_time"`
	CancelTime          string  `json:"cancel_time"`
	ActiveTime          string  `json:"active_time"`
	UpdateTime          string  `json:"update_time"`
	StatusMsg           string  `json:"status_msg"`
}

// QryTradeReq requests all of today's executions (paginated reply).
type QryTradeReq struct {
	BrokerID   string `json:"broker_id"`
	InvestorID string `json:"investor_id"`
}

// TradeField is one execution.
type TradeField struct {
	TradeID      string  `json:"trade_id"`
	InstrumentID string  `json:"instrument_id"`
	OrderSysID   string  `json:"order_sys_id"`
	Direction    string  `json:"direction"`
	Price        float64 `json:"price"`
	Volume       int     `json:"volume"`
	TradeDate    string  `json:"trade_date"`
	TradeTime    string  `json:"trade_time"`
}

// QryPositionReq requests the full position snapshot (paginated reply).
type QryPositionReq struct {
	BrokerID   string `json:"broker_id"`
	InvestorID string `json:"investor_id"`
}

// PositionField is one position row of the snapshot.
type PositionField struct {
	InstrumentID    string  `json:"instrument_id"`
	PosiDirection   string  `json:"posi_direction"`
	Position        int     `json:"position"`
	UseMargin       float64 `json:"use_margin"`
	OpenCost        float64 `json:"open_cost"`
	PositionCost    float64 `json:"position_cost"`
	PositionProfit  float64 `json:"position_profit"`
	PositionDate    string  `json:"position_date"`
	YdPosition      int     `json:"yd_position"`
	TodayPosition   int     `json:"today_position"`
	LongFrozen      int     `json:"long_frozen"`
	ShortFrozen     int     `json:"short_frozen"`
	OpenVolume      int     `json:"open_volume"`
	CloseVolume     int     `json:"close_volume"`
	SettlementPrice float64 `json:"settlement_price"`
}

// InputOrder is an order submission.
type InputOrder struct {
	BrokerID            string  `json:"broker_id"`
	InvestorID          string  `json:"investor_id"`
	ExchangeID          string  `json:"exchange_id"`
	InstrumentID        string  `json:"instrument_id"`
	Direction           string  `json:"direction"`
	CombOffsetFlag      string  `json:"comb_offset_flag"`
	TimeCondition       string  `json:"time_condition"`
	VolumeCondition     string  `json:"volume_condition"`
	OrderPriceType      string  `json:"order_price_type"`
	LimitPrice          float64 `json:"limit_price"`
	VolumeTotalOriginal int     `json:"volume_total_original"`
	MinVolume           int     `json:"min_volume"`
	CombHedgeFlag       string  `json:"comb_hedge_flag"`
	ContingentCondition string  `json:"contingent_condition"`
	ForceCloseReason    string  `json:"force_close_reason"`
	OrderRef            string  `json:"order_ref"`
}

// InputOrderAction is an order cancellation.
type InputOrderAction struct {
	BrokerID     string `json:"broker_id"`
	InvestorID   string `json:"investor_id"`
	UserID       string `json:"user_id"`
	ActionFlag   string `json:"action_flag"`
	ExchangeID   string `json:"exchange_id"`
	InstrumentID string `json:"instrument_id"`
	OrderSysID   string `json:"order_sys_id"`
}

// SubscribeReq subscribes or unsubscribes market data for a set of codes.
type SubscribeReq struct {
	Instruments []string `json:"instruments"`
}

// TickField is one depth market data push.
type TickField struct {
	TradingDay         string  `json:"trading_day"`
	UpdateTime         string  `json:"update_time"`
	UpdateMillisec     int     `json:"update_millisec"`
	InstrumentID       string  `json:"instrument_id"`
	LastPrice          float64 `json:"last_price"`
	OpenPrice          float64 `json:"open_price"`
	ClosePrice         float64 `json:"close_price"`
	HighestPrice       float64 `json:"highest_price"`
	LowestPrice        float64 `json:"lowest_price"`
	UpperLimitPrice    float64 `json:"upper_limit_price"`
	LowerLimitPrice    float64 `json:"lower_limit_price"`
	SettlementPrice    float64 `json:"settlement_price"`
	Volume             int64   `json:"volume"`
	Turnover           float64 `json:"turnover"`
	OpenInterest       float64 `json:"open_interest"`
	PreClosePrice      float64 `json:"pre_close_price"`
	PreSettlementPrice float64 `json:"pre_settlement_price"`
	PreOpenInterest    float64 `json:"pre_open_interest"`
	AskPrice1          float64 `json:"ask_price1"`
	AskVolume1         int     `json:"ask_volume1"`
	BidPrice1          float64 `json:"bid_price1"`
	BidVolume1         int     `json:"bid_volume1"`
	AskPrice2          float64 `json:"ask_price2"`
	AskVolume2         int     `json:"ask_volume2"`
	BidPrice2          float64 `json:"bid_price2"`
	BidVolume2         int     `json:"bid_volume2"`
	AskPrice3          float64 `json:"ask_price3"`
	AskVolume3         int     `json:"ask_volume3"`
	BidPrice3          float64 `json:"bid_price3"`
	BidVolume3         int     `json:"bid_volume3"`
	AskPrice4          float64 `json:"ask_price4"`
	AskVolume4         int     `json:"ask_volume4"`
	BidPrice4          float64 `json:"bid_price4"`
	BidVolume4         int     `json:"bid_volume4"`
	AskPrice5          float64 `json:"ask_price5"`
	AskVolume5         int     `json:"ask_volume5"`
	BidPrice5          float64 `json:"bid_price5"`
	BidVolume5         int     `json:"bid_volume5"`
}

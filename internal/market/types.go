// Package market holds the domain types shared across every bridge
// component: instruments, market frames, predictions, positions, trades,
// settings, subscribers, and events (spec §3).
package market

import "time"

// Direction is a trade/position/prediction direction.
type Direction string

const (
	Long    Direction = "LONG"
	Short   Direction = "SHORT"
	Neutral Direction = "NEUTRAL"
	Flat    Direction = "FLAT"
)

// Source identifies who originated a Trade.
type Source string

const (
	SourceManual Source = "MANUAL"
	SourceAuto   Source = "AUTO"
	SourceSync   Source = "SYNC"
)

// TradeStatus is a Trade's lifecycle state (spec §4.E state machine).
type TradeStatus string

const (
	StatusPending   TradeStatus = "PENDING"
	StatusFilled    TradeStatus = "FILLED"
	StatusPartial   TradeStatus = "PARTIAL"
	StatusClosed    TradeStatus = "CLOSED"
	StatusFailed    TradeStatus = "FAILED"
	StatusCancelled TradeStatus = "CANCELLED"
)

// Recommendation is the Prediction Gateway's confidence/strength tier.
type Recommendation string

const (
	RecommendationStrong   Recommendation = "STRONG"
	RecommendationModerate Recommendation = "MODERATE"
	RecommendationWeak     Recommendation = "WEAK"
	RecommendationNeutral  Recommendation = "NEUTRAL"
)

// MarketFrame is an inbound market-data observation for one instrument
// (spec §3). Extra is excluded from JSON and MarketFrame has no custom
// decoder, so unknown fields arriving on the wire are discarded on decode;
// Extra stays empty unless set in code.
type MarketFrame struct {
	Instrument    string         `json:"instrument"`
	TsMs          int64          `json:"ts"`
	Price         float64        `json:"price"`
	Volume        *float64       `json:"volume,omitempty"`
	RSI           *float64       `json:"rsi,omitempty"`
	EMAAlignment  *float64       `json:"ema_alignment,omitempty"`
	ATR           *float64       `json:"atr,omitempty"`
	Bid           *float64       `json:"bid,omitempty"`
	Ask           *float64       `json:"ask,omitempty"`
	High          *float64       `json:"high,omitempty"`
	Low           *float64       `json:"low,omitempty"`
	Open          *float64       `json:"open,omitempty"`
	Close         *float64       `json:"close,omitempty"`
	ADX           *float64       `json:"adx,omitempty"`
	EMA5          *float64       `json:"ema5,omitempty"`
	EMA8          *float64       `json:"ema8,omitempty"`
	Extra         map[string]any `json:"-"`
}

// TsBucketMs floors the frame timestamp to a 1-second bucket, the
// Prediction Gateway cache key granularity (spec §4.D step 2).
func (f MarketFrame) TsBucketMs() int64 {
	return (f.TsMs / 1000) * 1000
}

// Valid reports whether the frame satisfies the spec §3 MarketFrame invariants.
func (f MarketFrame) Valid() bool {
	if f.Price <= 0 {
		return false
	}
	if f.RSI != nil && (*f.RSI < 0 || *f.RSI > 100) {
		return false
	}
	return true
}

// Prediction is the normalized output of the Prediction Gateway (spec §3).
type Prediction struct {
	Direction     Direction      `json:"direction"`
	LongProb      float64        `json:"long_prob"`
	ShortProb     float64        `json:"short_prob"`
	Confidence    float64        `json:"confidence"`
	Strength      float64        `json:"strength"`
	Recommendation Recommendation `json:"recommendation"`
	ProcessingMs  float64        `json:"processing_ms"`
	ModelVersions map[string]string `json:"model_versions,omitempty"`
	CacheHit      bool           `json:"cache_hit"`
	FallbackUsed  bool           `json:"fallback_used"`
	Instrument    string         `json:"instrument,omitempty"`
	Timestamp     time.Time      `json:"-"`
}

// Position is one side's view of an instrument's current stance (spec §3).
type Position struct {
	Direction  Direction
	Size       float64
	AvgPrice   float64
	LastUpdate time.Time
}

// IsFlat reports whether the position has no exposure.
func (p Position) IsFlat() bool {
	return p.Direction == Flat || p.Size == 0
}

// Equal reports whether two positions agree on direction and size within
// tolerance eps, per the §3 reconciliation rule.
func (p Position) Equal(other Position, eps float64) bool {
	if p.Direction != other.Direction {
		return false
	}
	diff := p.Size - other.Size
	if diff < 0 {
		diff = -diff
	}
	return diff <= eps
}

// Trade is a tracked order lifecycle owned by the Trade Manager (spec §3).
type Trade struct {
	ID         string
	Instrument string
	Direction  Direction
	Qty        float64
	EntryPx    float64
	StopPx     float64
	TargetPx   float64
	Source     Source
	Status     TradeStatus
	CreatedAt  time.Time
	ExitedAt   *time.Time
	ExitPx     *float64
	ExitReason string
	Pnl        *float64
	OrderID    string
}

// Settings holds the bridge's runtime-adjustable risk gates (spec §3, §4.G).
type Settings struct {
	MinConfidence       float64 `json:"min_confidence"`
	AutoTradingEnabled  bool    `json:"auto_trading_enabled"`
}

// Channel names used on the Dashboard link (spec §3).
const (
	ChannelStrategyState      = "strategy_state"
	ChannelStrategyStatus     = "strategy_status"
	ChannelMarketData         = "market_data"
	ChannelTradeExecution     = "trade_execution"
	ChannelMLPredictionResult = "ml_prediction_result"
	ChannelSystemAlert        = "system_alert"
	ChannelPerformanceMetrics = "performance_metrics"
	ChannelHeartbeat          = "heartbeat"
	ChannelConnectionStatus   = "connection_status"
	ChannelCurrentSettings    = "current_settings"
)

// Event is a single named message delivered to Dashboard subscribers (spec §3).
type Event struct {
	Channel string    `json:"channel"`
	Payload any       `json:"payload"`
	Ts      time.Time `json:"ts"`
}

// PointValueTable holds the per-instrument point value used in pnl
// calculations (spec §4.E), defaulting to 1.0 for unlisted instruments.
// The table is static at process start (see DESIGN.md open-question
// decision on tick/point-value authority).
type PointValueTable struct {
	values map[string]float64
}

// NewPointValueTable builds a table from a seed map; a nil map yields a
// table that returns the 1.0 default for every instrument.
func NewPointValueTable(seed map[string]float64) *PointValueTable {
	values := make(map[string]float64, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &PointValueTable{values: values}
}

// DefaultPointValueTable seeds the instruments named in the spec's seed
// scenarios (S1, S5) — CME e-mini futures point values.
func DefaultPointValueTable() *PointValueTable {
	return NewPointValueTable(map[string]float64{
		"ES 03-25": 50.0,
		"NQ 03-25": 20.0,
	})
}

// Get returns the point value for instrument, defaulting to 1.0.
func (t *PointValueTable) Get(instrument string) float64 {
	if v, ok := t.values[instrument]; ok {
		return v
	}
	return 1.0
}

// Set overrides the point value for instrument.
func (t *PointValueTable) Set(instrument string, value float64) {
	t.values[instrument] = value
}

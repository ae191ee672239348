package polygon

// snapshotResponse is the bulk snapshot payload for all US stocks.
type snapshotResponse struct {
	Status  string           `json:"status"`
	Count   int              `json:"count"`
	Tickers []snapshotTicker `json:"tickers"`
}

// snapshotTicker is one symbol inside the bulk snapshot.
// Day/PrevDay use pointers so a missing block is distinguishable from a
// zero-valued one.
type snapshotTicker struct {
	Ticker           string       `json:"ticker"`
	TodaysChangePerc *float64     `json:"todaysChangePerc"`
	Updated          int64        `json:"updated"` // epoch nanoseconds
	Day              *snapshotDay `json:"day"`
	PrevDay          *snapshotDay `json:"prevDay"`
	Min              *snapshotDay `json:"min"`
}

type snapshotDay struct {
	Open   *float64 `json:"o"`
	High   *float64 `json:"h"`
	Low    *float64 `json:"l"`
	Close  *float64 `json:"c"`
	Volume *float64 `json:"v"`
}

// aggsResponse is the per-symbol aggregates payload.
type aggsResponse struct {
	Ticker       string    `json:"ticker"`
	Status       string    `json:"status"`
	ResultsCount int       `json:"resultsCount"`
	Results      []aggsBar `json:"results"`
}

type aggsBar struct {
	Time   int64   `json:"t"` // epoch milliseconds
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

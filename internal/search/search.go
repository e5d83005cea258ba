package search

// Result is a single search hit returned to the caller.
type Result struct {
	PinID   string `json:"pinId"`
	AreaID  string `json:"areaId"`
	Title   string `json:"title"`
	Address string `json:"address"`
	Status  string `json:"status"`
	Rank    int    `json:"rank"`
}

// Query describes a search request over one area's pins.
type Query struct {
	Text   string
	AreaID string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a pin search.
type Searcher interface {
	Search(q Query) ([]Result, error)
	Healthy() bool
}

// PinRecord is the data we index for a pin.
type PinRecord struct {
	ID      string `json:"id"`
	AreaID  string `json:"areaId"`
	Title   string `json:"title"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bryanwahyu/tradelane/internal/domain/risk"
	"github.com/bryanwahyu/tradelane/internal/domain/tariff"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// ID identifies an analysis record.
type ID string

// Classification is what the external classifier returns for a product.
type Classification struct {
	HSCode              trade.HSCode     `json:"hs_code"`
	Confidence          float64          `json:"confidence"`
	Explanation         string           `json:"explanation"`
	Materials           []trade.Material `json:"materials"`
	ResolvedDescription string           `json:"resolved_description,omitempty"`
	Model               string           `json:"model,omitempty"`
}

// ClassifyInput is the product as described by the caller. At least one of
// Description or ImageBase64 is required.
type ClassifyInput struct {
	ProductName string
	Description string
	ImageBase64 string
}

// Parameters are the lane and valuation inputs of a request.
type Parameters struct {
	ProductName          string            `json:"product_name"`
	Description          string            `json:"description,omitempty"`
	ManufacturingCountry trade.CountryCode `json:"manufacturing_country"`
	DestinationCountry   trade.CountryCode `json:"destination_country"`
	DeclaredValue        decimal.Decimal   `json:"declared_value"`
	Currency             string            `json:"currency,omitempty"`
}

// Record is one immutable analysis. It is created once by the orchestrator
// and owned by the store afterwards.
type Record struct {
	ID             ID             `json:"analysis_id"`
	ParentID       ID             `json:"parent_id,omitempty"`
	Parameters     Parameters     `json:"parameters"`
	Classification Classification `json:"classification"`
	Tariff         tariff.Result  `json:"tariff_summary"`
	Risk           risk.Score     `json:"risk_score"`
	Flow           FlowGraph      `json:"map_flow"`
	CreatedAt      time.Time      `json:"created_at"`
}

// FlowNode is a country on the trade lane graph.
type FlowNode struct {
	ID      string            `json:"id"`
	Country trade.CountryCode `json:"country"`
	Name    string            `json:"name,omitempty"`
	Role    string            `json:"role"`
	Lat     *float64          `json:"lat,omitempty"`
	Lng     *float64          `json:"lng,omitempty"`
}

// FlowEdge moves goods between two nodes.
type FlowEdge struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Share float64  `json:"share"`
	Label string   `json:"label,omitempty"`
	Items []string `json:"materials,omitempty"`
}

// FlowGraph is the input of the geographic flow visualization.
type FlowGraph struct {
	HSCode trade.HSCode `json:"hs_code"`
	Nodes  []FlowNode   `json:"nodes"`
	Edges  []FlowEdge   `json:"edges"`
}

// Report is the narrative summary of a stored record.
type Report struct {
	AnalysisID              ID        `json:"analysis_id"`
	SummaryText             string    `json:"summary_text"`
	OptimizationSuggestions []string  `json:"optimization_suggestions"`
	RiskAdvisory            string    `json:"risk_advisory"`
	Source                  string    `json:"source"`
	GeneratedAt             time.Time `json:"generated_at"`
}

// PaginatedResult is one page of records, newest first.
type PaginatedResult struct {
	Data       []*Record `json:"data"`
	Page       int       `json:"page"`
	PageSize   int       `json:"pageSize"`
	Total      int64     `json:"totalItems"`
	TotalPages int       `json:"totalPages"`
}

// Package flow turns a bill of materials into the lane graph drawn on the
// globe view.
package flow

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bryanwahyu/tradelane/internal/domain/analysis"
	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// Node roles.
const (
	RoleOrigin        = "origin"
	RoleManufacturing = "manufacturing"
	RoleDestination   = "destination"
)

//go:embed centroids.json
var centroidsJSON []byte

// approximate country centroids, [lat, lng]
var centroids map[trade.CountryCode][2]float64

func init() {
	if err := json.Unmarshal(centroidsJSON, &centroids); err != nil {
		panic(fmt.Sprintf("flow: bad centroid table: %v", err))
	}
}

// CountryNamer resolves display names; *reference.Store satisfies it.
type CountryNamer interface {
	CountryName(c trade.CountryCode) string
}

// Visualizer is a pure transform and safe for concurrent use.
type Visualizer struct {
	Names CountryNamer
}

var _ analysis.Visualizer = (*Visualizer)(nil)

func New(names CountryNamer) *Visualizer {
	return &Visualizer{Names: names}
}

// Generate builds one node per distinct material origin plus the
// manufacturing and destination nodes. Origin edges carry the summed
// composition share; the final edge is labelled with the HS code.
func (v *Visualizer) Generate(hs trade.HSCode, manufacturing, destination trade.CountryCode, materials []trade.Material) analysis.FlowGraph {
	mfg := trade.NormalizeCountry(string(manufacturing))
	dest := trade.NormalizeCountry(string(destination))

	type origin struct {
		share float64
		items []string
	}
	origins := map[trade.CountryCode]*origin{}
	for _, m := range materials {
		c := trade.NormalizeCountry(string(m.OriginCountry))
		if c == "" {
			c = mfg
		}
		o, ok := origins[c]
		if !ok {
			o = &origin{}
			origins[c] = o
		}
		o.share += m.Percentage
		if m.Name != "" {
			o.items = append(o.items, m.Name)
		}
	}
	codes := make([]trade.CountryCode, 0, len(origins))
	for c := range origins {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	g := analysis.FlowGraph{HSCode: hs, Nodes: []analysis.FlowNode{}, Edges: []analysis.FlowEdge{}}
	mfgID := nodeID(RoleManufacturing, mfg)
	for _, c := range codes {
		o := origins[c]
		id := nodeID(RoleOrigin, c)
		g.Nodes = append(g.Nodes, v.node(id, c, RoleOrigin))
		g.Edges = append(g.Edges, analysis.FlowEdge{
			From:  id,
			To:    mfgID,
			Share: round2(o.share),
			Label: fmt.Sprintf("%.2f%%", o.share),
			Items: o.items,
		})
	}
	g.Nodes = append(g.Nodes,
		v.node(mfgID, mfg, RoleManufacturing),
		v.node(nodeID(RoleDestination, dest), dest, RoleDestination),
	)
	g.Edges = append(g.Edges, analysis.FlowEdge{
		From:  mfgID,
		To:    nodeID(RoleDestination, dest),
		Share: 100,
		Label: string(hs),
	})
	return g
}

func (v *Visualizer) node(id string, c trade.CountryCode, role string) analysis.FlowNode {
	n := analysis.FlowNode{ID: id, Country: c, Role: role}
	if v.Names != nil {
		n.Name = v.Names.CountryName(c)
	}
	if ll, ok := centroids[c]; ok {
		lat, lng := ll[0], ll[1]
		n.Lat, n.Lng = &lat, &lng
	}
	return n
}

func nodeID(role string, c trade.CountryCode) string {
	return role + ":" + string(c)
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

package analysis

import (
	"context"

	"github.com/bryanwahyu/tradelane/internal/domain/trade"
)

// Classifier port (external: HS code + bill of materials from free text or an image)
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Classification, error)
}

// Visualizer port (external: flow graph for the globe view). Pure transform.
type Visualizer interface {
	Generate(hs trade.HSCode, manufacturing, destination trade.CountryCode, materials []trade.Material) FlowGraph
}

// Store port: the in-process analysis store. Records are never deleted.
type Store interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id ID) (*Record, error)
	List(ctx context.Context, page, pageSize int) ([]*Record, int64, error)
	Len() int
}

// Archive port: optional durable copy of records, written best-effort.
type Archive interface {
	Save(ctx context.Context, r *Record) error
}

// FlowExporter port: optional publication of flow graphs (object storage).
type FlowExporter interface {
	Export(ctx context.Context, id ID, g FlowGraph) (string, error)
}

// Reporter port (external: narrative report for a record)
type Reporter interface {
	Report(ctx context.Context, r *Record) (Report, error)
}

package interfaces

import (
	"context"

	"commandcenter/pkg/types"
)

// ImagingSource is the browser-automation connector surface the aggregation
// service fans out to. Errors propagate to the aggregator, which downgrades
// them to a section-level unavailability marker.
type ImagingSource interface {
	// Studies logs in, searches the portal for mrn and returns the
	// patient's study list with whatever details could be extracted.
	Studies(ctx context.Context, mrn string) ([]types.Study, []types.StudyDetail, error)

	// Close releases the portal session. Idempotent.
	Close() error
}

// EMRSource is the external EMR feed. It may be left unconfigured, in which
// case Configured reports false and the snapshot section is marked
// unavailable with reason "not configured".
type EMRSource interface {
	Configured() bool
	Fetch(ctx context.Context, mrn string) (*types.EMRRecord, error)
}

// Summarizer is the inference collaborator producing a natural-language
// overview of a composed snapshot.
type Summarizer interface {
	Summarize(ctx context.Context, snap *types.Snapshot) (string, error)
}

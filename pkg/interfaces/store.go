package interfaces

import (
	"context"

	"commandcenter/pkg/types"
)

// PatientStore is the read surface of the local relational store used by the
// aggregation service.
type PatientStore interface {
	// FindPatient resolves a patient by MRN. Returns types.ErrNotFound
	// when absent.
	FindPatient(ctx context.Context, mrn string) (*types.Patient, error)

	// SearchPatients matches q case-insensitively against MRN and name,
	// bounded to limit results ordered by last name.
	SearchPatients(ctx context.Context, q string, limit int) ([]*types.Patient, error)

	// ProceduresForPatient lists the patient's procedure records.
	ProceduresForPatient(ctx context.Context, mrn string) ([]*types.Procedure, error)
}

// ProcedureStore is the write surface the hub persists authoring events
// through before broadcasting them.
type ProcedureStore interface {
	// UpdateField sets a single template field on a procedure record.
	UpdateField(ctx context.Context, procedureID, field string, value interface{}) error

	// UpdateProcedure applies a batch of changes to a procedure record.
	UpdateProcedure(ctx context.Context, procedureID string, changes map[string]interface{}) error
}

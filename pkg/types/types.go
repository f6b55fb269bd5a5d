package types

import (
	"time"
)

// Client roles. A connection starts unclassified and is classified by the
// first register message it sends.
const (
	RoleUnclassified = ""
	RoleAuthoring    = "dragon"    // voice dictation tool
	RoleViewing      = "dashboard" // command center UI
)

// Patient is the canonical local record, keyed by MRN.
type Patient struct {
	MRN       string    `json:"mrn" db:"mrn"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	DOB       time.Time `json:"dob" db:"dob"`
	Gender    string    `json:"gender" db:"gender"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Age returns the patient's age in whole years at the given time.
func (p *Patient) Age(now time.Time) int {
	years := now.Year() - p.DOB.Year()
	if now.YearDay() < p.DOB.YearDay() {
		years--
	}
	return years
}

// Procedure is a shared clinical-procedure record edited live by clients.
// Fields holds the structured template values; Narrative is the dictated text.
type Procedure struct {
	ID         string                 `json:"id" db:"id"`
	PatientMRN string                 `json:"patient_mrn" db:"patient_mrn"`
	Narrative  string                 `json:"narrative" db:"narrative"`
	Status     string                 `json:"status" db:"status"`
	Fields     map[string]interface{} `json:"fields" db:"fields"`
	UpdatedAt  time.Time              `json:"updated_at" db:"updated_at"`
}

// Study is one imaging study summary pulled from the portal results view.
type Study struct {
	Date      string `json:"date"`
	Procedure string `json:"procedure"`
	Accession string `json:"accession"`
	Ref       string `json:"ref"`
}

// StudyDetail is the payload the portal's viewer frame populates
// asynchronously for a single study.
type StudyDetail struct {
	Accession string                 `json:"accession"`
	Findings  string                 `json:"findings"`
	Series    []string               `json:"series"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// EMRRecord is the feed returned by the external EMR collaborator.
type EMRRecord struct {
	MRN         string   `json:"mrn"`
	Allergies   []string `json:"allergies"`
	Medications []string `json:"medications"`
	Problems    []string `json:"problems"`
}

// EMRSection is the EMR part of a snapshot. When Available is false the
// Reason explains why; the section is never silently omitted.
type EMRSection struct {
	Available bool       `json:"available"`
	Reason    string     `json:"reason,omitempty"`
	Record    *EMRRecord `json:"record,omitempty"`
}

// ImagingSection is the portal part of a snapshot.
type ImagingSection struct {
	Available bool          `json:"available"`
	Reason    string        `json:"reason,omitempty"`
	Studies   []Study       `json:"studies,omitempty"`
	Details   []StudyDetail `json:"details,omitempty"`
}

// Summary is the natural-language overview of a snapshot. Generated is false
// when the inference collaborator failed and Text holds the local fallback.
type Summary struct {
	Generated bool   `json:"generated"`
	Text      string `json:"text"`
}

// Snapshot is the merged multi-source view of one patient. Patient is always
// present and authoritative; every external section carries its own
// availability marker.
type Snapshot struct {
	Patient    *Patient       `json:"patient"`
	Procedures []*Procedure   `json:"procedures"`
	EMR        EMRSection     `json:"emr"`
	Imaging    ImagingSection `json:"imaging"`
	Summary    Summary        `json:"summary"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

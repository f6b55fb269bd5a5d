// Package aggregate stitches the local store, the imaging portal and the
// EMR feed into one patient snapshot. Only a missing local record fails the
// call; every external failure degrades to a per-section marker.
package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"commandcenter/internal/summary"
	"commandcenter/pkg/interfaces"
	"commandcenter/pkg/types"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultMaxEntries  = 100
	DefaultSearchLimit = 20
)

type Options struct {
	TTL         time.Duration
	MaxEntries  int
	SearchLimit int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.TTL == 0 {
		out.TTL = DefaultTTL
	}
	if out.MaxEntries == 0 {
		out.MaxEntries = DefaultMaxEntries
	}
	if out.SearchLimit == 0 {
		out.SearchLimit = DefaultSearchLimit
	}
	return out
}

type Service struct {
	store      interfaces.PatientStore
	emr        interfaces.EMRSource
	imaging    interfaces.ImagingSource
	summarizer interfaces.Summarizer
	cache      *cache
	opts       Options
	log        zerolog.Logger
}

func New(store interfaces.PatientStore, emr interfaces.EMRSource, imaging interfaces.ImagingSource,
	summarizer interfaces.Summarizer, opts Options, log zerolog.Logger) *Service {
	o := opts.withDefaults()
	return &Service{
		store:      store,
		emr:        emr,
		imaging:    imaging,
		summarizer: summarizer,
		cache:      newCache(o.TTL, o.MaxEntries),
		opts:       o,
		log:        log.With().Str("component", "aggregate").Logger(),
	}
}

// Comprehensive returns the merged multi-source view of one patient.
// Cached snapshots are served without touching any collaborator. The local
// record lookup is the only fatal step: everything downstream settles
// independently into its section.
func (s *Service) Comprehensive(ctx context.Context, mrn string) (*types.Snapshot, error) {
	if snap, ok := s.cache.get(mrn); ok {
		s.log.Debug().Str("mrn", mrn).Msg("cache hit")
		return snap, nil
	}

	patient, err := s.store.FindPatient(ctx, mrn)
	if err != nil {
		return nil, err
	}

	procedures, err := s.store.ProceduresForPatient(ctx, mrn)
	if err != nil {
		s.log.Warn().Err(err).Str("mrn", mrn).Msg("procedure list unavailable")
	}

	emrSection, imagingSection := s.fetchExternal(ctx, mrn)

	snap := &types.Snapshot{
		Patient:    patient,
		Procedures: procedures,
		EMR:        emrSection,
		Imaging:    imagingSection,
		FetchedAt:  time.Now(),
	}
	snap.Summary = s.summarize(ctx, snap)

	s.cache.put(mrn, snap)
	return snap, nil
}

// fetchExternal runs the EMR and imaging fetches in parallel, capturing
// each outcome independently: one side failing never cancels the other.
func (s *Service) fetchExternal(ctx context.Context, mrn string) (types.EMRSection, types.ImagingSection) {
	var (
		wg sync.WaitGroup

		emrRecord *types.EMRRecord
		emrErr    error

		studies []types.Study
		details []types.StudyDetail
		imgErr  error
	)

	emrConfigured := s.emr != nil && s.emr.Configured()
	if emrConfigured {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emrRecord, emrErr = s.emr.Fetch(ctx, mrn)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		studies, details, imgErr = s.imaging.Studies(ctx, mrn)
	}()

	wg.Wait()

	emrSection := types.EMRSection{Available: false, Reason: "not configured"}
	if emrConfigured {
		if emrErr != nil {
			s.log.Warn().Err(emrErr).Str("mrn", mrn).Msg("emr fetch failed")
			emrSection = types.EMRSection{Available: false, Reason: emrErr.Error()}
		} else {
			emrSection = types.EMRSection{Available: true, Record: emrRecord}
		}
	}

	imagingSection := types.ImagingSection{Available: true, Studies: studies, Details: details}
	if imgErr != nil {
		s.log.Warn().Err(imgErr).Str("mrn", mrn).Msg("imaging fetch failed")
		imagingSection = types.ImagingSection{Available: false, Reason: imgErr.Error()}
	}

	return emrSection, imagingSection
}

// summarize asks the inference collaborator for an overview and falls back
// to a deterministic string built from local fields on any failure.
func (s *Service) summarize(ctx context.Context, snap *types.Snapshot) types.Summary {
	if s.summarizer != nil {
		text, err := s.summarizer.Summarize(ctx, snap)
		if err == nil {
			return types.Summary{Generated: true, Text: text}
		}
		s.log.Warn().Err(err).Str("mrn", snap.Patient.MRN).Msg("summary generation failed")
	}
	return types.Summary{
		Generated: false,
		Text:      summary.Fallback(snap.Patient, time.Now()),
	}
}

// SearchPatients delegates to the local store. Never touches external
// sources or the cache.
func (s *Service) SearchPatients(ctx context.Context, q string) ([]*types.Patient, error) {
	return s.store.SearchPatients(ctx, q, s.opts.SearchLimit)
}

// ClearCache empties the snapshot cache. Manual invalidation only; expiry
// is otherwise handled per entry by the TTL.
func (s *Service) ClearCache() {
	s.cache.clear()
}

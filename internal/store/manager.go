package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"commandcenter/pkg/types"
)

const writeTimeout = 30 * time.Second

// Manager is the local relational store. Reads run concurrently on the
// connection pool; writes are serialized through a single goroutine, which
// is what SQLite wants under WAL.
type Manager struct {
	db      *sql.DB
	writeCh chan writeOp
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

type writeOp struct {
	op     func(db *sql.DB) error
	result chan error
}

// Open opens (and if needed bootstraps) the database at path.
func Open(path string, log zerolog.Logger) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	m := &Manager{
		db:      db,
		writeCh: make(chan writeOp, 100),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "store").Logger(),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		select {
		case op := <-m.writeCh:
			op.result <- op.op(m.db)
		case <-m.done:
			// Answer anything already queued so no caller is left
			// blocked on its result.
			for {
				select {
				case op := <-m.writeCh:
					op.result <- ErrStoreClosed
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) write(op func(db *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeCh <- writeOp{op: op, result: result}:
	case <-time.After(writeTimeout):
		return fmt.Errorf("write queue: %w", types.ErrTimeout)
	case <-m.done:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.done:
		// The loop drains the queue on shutdown, so a queued op still
		// gets an answer; an op racing past the drain does not.
		select {
		case err := <-result:
			return err
		default:
			return ErrStoreClosed
		}
	}
}

// Close stops the write loop and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
	return m.db.Close()
}

// FindPatient resolves a patient by MRN.
func (m *Manager) FindPatient(ctx context.Context, mrn string) (*types.Patient, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT mrn, first_name, last_name, dob, gender, created_at FROM patients WHERE mrn = ?`, mrn)

	var p types.Patient
	err := row.Scan(&p.MRN, &p.FirstName, &p.LastName, &p.DOB, &p.Gender, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("patient %s: %w", mrn, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query patient: %w", err)
	}
	return &p, nil
}

// SearchPatients matches q case-insensitively against MRN and both name
// columns, ordered by last name, bounded to limit rows. Never touches
// external sources.
func (m *Manager) SearchPatients(ctx context.Context, q string, limit int) ([]*types.Patient, error) {
	pattern := "%" + q + "%"
	rows, err := m.db.QueryContext(ctx, `
		SELECT mrn, first_name, last_name, dob, gender, created_at
		FROM patients
		WHERE mrn LIKE ? COLLATE NOCASE
		   OR first_name LIKE ? COLLATE NOCASE
		   OR last_name LIKE ? COLLATE NOCASE
		ORDER BY last_name, first_name
		LIMIT ?`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var out []*types.Patient
	for rows.Next() {
		var p types.Patient
		if err := rows.Scan(&p.MRN, &p.FirstName, &p.LastName, &p.DOB, &p.Gender, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ProceduresForPatient lists a patient's procedure records, newest first.
func (m *Manager) ProceduresForPatient(ctx context.Context, mrn string) ([]*types.Procedure, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, patient_mrn, narrative, status, fields, updated_at
		FROM procedures WHERE patient_mrn = ? ORDER BY updated_at DESC`, mrn)
	if err != nil {
		return nil, fmt.Errorf("query procedures: %w", err)
	}
	defer rows.Close()

	var out []*types.Procedure
	for rows.Next() {
		p, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProcedure fetches one procedure record.
func (m *Manager) GetProcedure(ctx context.Context, id string) (*types.Procedure, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, patient_mrn, narrative, status, fields, updated_at
		FROM procedures WHERE id = ?`, id)
	p, err := scanProcedure(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("procedure %s: %w", id, types.ErrNotFound)
	}
	return p, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProcedure(s scanner) (*types.Procedure, error) {
	var p types.Procedure
	var fieldsJSON string
	if err := s.Scan(&p.ID, &p.PatientMRN, &p.Narrative, &p.Status, &fieldsJSON, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &p.Fields); err != nil {
		return nil, fmt.Errorf("decode procedure fields: %w", err)
	}
	return &p, nil
}

// CreatePatient inserts a patient row.
func (m *Manager) CreatePatient(ctx context.Context, p *types.Patient) error {
	return m.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO patients (mrn, first_name, last_name, dob, gender, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.MRN, p.FirstName, p.LastName, p.DOB, p.Gender, time.Now())
		if err != nil {
			return fmt.Errorf("insert patient: %w", err)
		}
		return nil
	})
}

// CreateProcedure inserts a procedure row.
func (m *Manager) CreateProcedure(ctx context.Context, p *types.Procedure) error {
	fields := p.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode procedure fields: %w", err)
	}
	return m.write(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO procedures (id, patient_mrn, narrative, status, fields, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.PatientMRN, p.Narrative, p.Status, string(fieldsJSON), time.Now())
		if err != nil {
			return fmt.Errorf("insert procedure: %w", err)
		}
		return nil
	})
}

// UpdateField sets one template field inside the procedure's fields blob.
func (m *Manager) UpdateField(ctx context.Context, procedureID, field string, value interface{}) error {
	return m.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var fieldsJSON string
		err = tx.QueryRowContext(ctx, `SELECT fields FROM procedures WHERE id = ?`, procedureID).Scan(&fieldsJSON)
		if err == sql.ErrNoRows {
			return fmt.Errorf("procedure %s: %w", procedureID, types.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read fields: %w", err)
		}

		fields := map[string]interface{}{}
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return fmt.Errorf("decode fields: %w", err)
		}
		fields[field] = value
		updated, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE procedures SET fields = ?, updated_at = ? WHERE id = ?`,
			string(updated), time.Now(), procedureID); err != nil {
			return fmt.Errorf("update fields: %w", err)
		}
		return tx.Commit()
	})
}

// UpdateProcedure applies a batch of changes. The narrative and status keys
// map to their columns; everything else merges into the fields blob.
func (m *Manager) UpdateProcedure(ctx context.Context, procedureID string, changes map[string]interface{}) error {
	return m.write(func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var narrative, status, fieldsJSON string
		err = tx.QueryRowContext(ctx,
			`SELECT narrative, status, fields FROM procedures WHERE id = ?`, procedureID).
			Scan(&narrative, &status, &fieldsJSON)
		if err == sql.ErrNoRows {
			return fmt.Errorf("procedure %s: %w", procedureID, types.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read procedure: %w", err)
		}

		fields := map[string]interface{}{}
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return fmt.Errorf("decode fields: %w", err)
		}

		for key, value := range changes {
			switch key {
			case "narrative":
				if s, ok := value.(string); ok {
					narrative = s
				}
			case "status":
				if s, ok := value.(string); ok {
					status = s
				}
			default:
				fields[key] = value
			}
		}

		updated, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE procedures SET narrative = ?, status = ?, fields = ?, updated_at = ?
			WHERE id = ?`,
			narrative, status, string(updated), time.Now(), procedureID); err != nil {
			return fmt.Errorf("update procedure: %w", err)
		}
		return tx.Commit()
	})
}

package store

// Schema bootstrap. SQLite creates what is missing on startup; existing
// tables are left untouched.
const schema = `
CREATE TABLE IF NOT EXISTS patients (
    mrn         TEXT PRIMARY KEY,
    first_name  TEXT NOT NULL,
    last_name   TEXT NOT NULL,
    dob         DATETIME NOT NULL,
    gender      TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS procedures (
    id          TEXT PRIMARY KEY,
    patient_mrn TEXT NOT NULL REFERENCES patients(mrn),
    narrative   TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'draft',
    fields      TEXT NOT NULL DEFAULT '{}',
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_procedures_patient ON procedures(patient_mrn);
CREATE INDEX IF NOT EXISTS idx_patients_last_name ON patients(last_name);
`

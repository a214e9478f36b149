// Package persistence stores one row per completed run: verdict, failure,
// rca_detail, blocked signature, heal_events, and executed_steps (spec §6's
// persistence record). Artifact (screenshot) paths are not stored. Grounded on internal/store/tool_store.go's
// CREATE-TABLE-IF-NOT-EXISTS + database/sql + mutex convention, same as
// internal/cache's durable layer.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/example/pacts/internal/logging"
	"github.com/example/pacts/internal/model"
)

// Store persists RunState snapshots.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates (or attaches to) the run-record table at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS runs (
		req_id TEXT PRIMARY KEY,
		verdict TEXT NOT NULL,
		failure TEXT,
		rca_detail TEXT,
		blocked_signature TEXT,
		heal_events TEXT NOT NULL,
		executed_steps TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create runs schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Save upserts a run record, called by the coordinator at every terminal
// transition (PASS/FAIL/BLOCKED) and, per the §9 open-question decision in
// DESIGN.md, on passing runs too, so heal provenance survives even for green
// runs.
func (s *Store) Save(run *model.RunState) error {
	timer := logging.StartTimer(logging.CategoryExec, fmt.Sprintf("persist run %s", run.ReqID))
	defer timer.Stop()

	healJSON, err := json.Marshal(run.HealEvents)
	if err != nil {
		return fmt.Errorf("marshal heal events: %w", err)
	}
	stepsJSON, err := json.Marshal(run.Context.ExecutedSteps)
	if err != nil {
		return fmt.Errorf("marshal executed steps: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`INSERT INTO runs (req_id, verdict, failure, rca_detail, blocked_signature, heal_events, executed_steps, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(req_id) DO UPDATE SET verdict=excluded.verdict, failure=excluded.failure, rca_detail=excluded.rca_detail,
			blocked_signature=excluded.blocked_signature, heal_events=excluded.heal_events, executed_steps=excluded.executed_steps,
			ended_at=excluded.ended_at`,
		run.ReqID, string(run.Verdict), string(run.Failure), run.RCADetail, run.BlockedSignature,
		string(healJSON), string(stepsJSON), run.StartedAt, nullableTime(run.EndedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ReqID, err)
	}
	return nil
}

// Record is the read-side projection of a persisted run, used by `run show`.
type Record struct {
	ReqID            string
	Verdict          string
	Failure          string
	RCADetail        string
	BlockedSignature string
	HealEvents       []model.HealEvent
	ExecutedSteps    []model.ExecutedStep
	StartedAt        time.Time
	EndedAt          time.Time
}

// Get loads one run record by req_id.
func (s *Store) Get(reqID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT req_id, verdict, failure, rca_detail, blocked_signature, heal_events, executed_steps, started_at, ended_at FROM runs WHERE req_id = ?`, reqID)

	var rec Record
	var healJSON, stepsJSON string
	var endedAt sql.NullTime
	var failure, rca, blocked sql.NullString
	if err := row.Scan(&rec.ReqID, &rec.Verdict, &failure, &rca, &blocked, &healJSON, &stepsJSON, &rec.StartedAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run %s not found", reqID)
		}
		return nil, fmt.Errorf("load run %s: %w", reqID, err)
	}
	rec.Failure = failure.String
	rec.RCADetail = rca.String
	rec.BlockedSignature = blocked.String
	if endedAt.Valid {
		rec.EndedAt = endedAt.Time
	}

	if err := json.Unmarshal([]byte(healJSON), &rec.HealEvents); err != nil {
		return nil, fmt.Errorf("unmarshal heal events: %w", err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &rec.ExecutedSteps); err != nil {
		return nil, fmt.Errorf("unmarshal executed steps: %w", err)
	}
	return &rec, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

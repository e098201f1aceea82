// Package storage persists run history and the single auto-resume point in
// a local sqlite database.
package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/JcJet/jds6600-controller/internal/models"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		file_path TEXT NOT NULL,
		file_sha256 TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		total_steps INTEGER NOT NULL DEFAULT 0,
		last_step_index INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS resume (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateRun(run *models.Run) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO runs (file_path, file_sha256, status, total_steps, last_step_index)
		 VALUES (?, ?, ?, ?, ?)`,
		run.FilePath, run.FileSHA256, run.Status, run.TotalSteps, run.LastStepIndex,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateRun(run *models.Run) error {
	_, err := s.db.Exec(
		`UPDATE runs SET completed_at = ?, status = ?, last_step_index = ?, error = ? WHERE id = ?`,
		run.CompletedAt, run.Status, run.LastStepIndex, nullIfEmpty(run.Error), run.ID,
	)
	return err
}

func (s *Storage) GetRun(id int64) (*models.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, completed_at, file_path, file_sha256, status, total_steps, last_step_index, error
		 FROM runs WHERE id = ?`, id,
	)
	return scanRun(row)
}

func (s *Storage) ListRuns(limit int) ([]*models.Run, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, completed_at, file_path, file_sha256, status, total_steps, last_step_index, error
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (s *Storage) DeleteRun(id int64) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*models.Run, error) {
	var run models.Run
	var completedAt sql.NullTime
	var errText sql.NullString

	err := row.Scan(
		&run.ID, &run.CreatedAt, &completedAt, &run.FilePath, &run.FileSHA256,
		&run.Status, &run.TotalSteps, &run.LastStepIndex, &errText,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if errText.Valid {
		run.Error = errText.String
	}

	return &run, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveResume replaces the persisted resume point. There is at most one; a
// new run's checkpoint supersedes any older one.
func (s *Storage) SaveResume(filePath string, checkpoint *models.Checkpoint) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	sha, err := FileSHA256(abs)
	if err != nil {
		return fmt.Errorf("hash command file: %w", err)
	}

	rp := models.ResumePoint{
		V:          1,
		FilePath:   abs,
		FileSHA256: sha,
		Checkpoint: checkpoint,
		SavedAt:    time.Now().Unix(),
	}
	payload, err := json.Marshal(rp)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO resume (id, payload) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
		string(payload),
	)
	return err
}

// LoadResume returns the persisted resume point if it is still valid for
// filePath: same absolute path, same content hash, known record version.
// Any mismatch yields (nil, nil); a stale resume is not an error.
func (s *Storage) LoadResume(filePath string) (*models.ResumePoint, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM resume WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rp models.ResumePoint
	if err := json.Unmarshal([]byte(payload), &rp); err != nil {
		return nil, nil
	}
	if rp.V != 1 || rp.FilePath == "" || rp.FileSHA256 == "" || rp.Checkpoint == nil {
		return nil, nil
	}

	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, err
	}
	if rp.FilePath != abs {
		return nil, nil
	}
	sha, err := FileSHA256(abs)
	if err != nil {
		return nil, nil
	}
	if sha != rp.FileSHA256 {
		return nil, nil
	}

	return &rp, nil
}

// ClearResume removes the persisted resume point.
func (s *Storage) ClearResume() error {
	_, err := s.db.Exec(`DELETE FROM resume WHERE id = 1`)
	return err
}

// FileSHA256 hashes a file's contents.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

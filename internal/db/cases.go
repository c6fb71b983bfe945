package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Case is one investigation case. Every case owns its own knowledge graph,
// message history and uploaded files.
type Case struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one chat message of a case, either from the investigator or
// the assistant.
type Message struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CaseFile is an uploaded document attached to a case. Status moves from
// pending through processed or failed as the worker ingests it.
type CaseFile struct {
	ID        string    `json:"id"`
	CaseID    string    `json:"case_id"`
	Name      string    `json:"name"`
	FileKey   string    `json:"file_key"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	FileStatusPending   = "pending"
	FileStatusProcessed = "processed"
	FileStatusFailed    = "failed"
)

// CaseStore is the query layer over the case tables.
type CaseStore struct {
	conn pgxIConn
}

// NewCaseStore creates a CaseStore over a pool, connection or transaction.
func NewCaseStore(conn pgxIConn) *CaseStore {
	return &CaseStore{conn: conn}
}

type CreateCaseParams struct {
	UserID int64
	Title  string
}

func (s *CaseStore) CreateCase(ctx context.Context, params CreateCaseParams) (Case, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Case{}, err
	}

	var c Case
	err = s.conn.QueryRow(ctx, createCaseSQL, id, params.UserID, params.Title).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *CaseStore) GetCase(ctx context.Context, id string) (Case, error) {
	var c Case
	err := s.conn.QueryRow(ctx, getCaseSQL, id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Case{}, ErrNotFound
	}
	return c, err
}

func (s *CaseStore) ListCases(ctx context.Context, userID int64) ([]Case, error) {
	rows, err := s.conn.Query(ctx, listCasesSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := []Case{}
	for rows.Next() {
		var c Case
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// DeleteCase removes the case row; messages, files and graph state cascade
// with it. Lease rows are unreferenced and expire on their own.
func (s *CaseStore) DeleteCase(ctx context.Context, id string) error {
	tag, err := s.conn.Exec(ctx, deleteCaseSQL, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CaseStore) TouchCase(ctx context.Context, id string) error {
	_, err := s.conn.Exec(ctx, touchCaseSQL, id)
	return err
}

type AddMessageParams struct {
	CaseID  string
	Role    string
	Content string
}

func (s *CaseStore) AddMessage(ctx context.Context, params AddMessageParams) (Message, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Message{}, err
	}

	var m Message
	err = s.conn.QueryRow(ctx, addMessageSQL, id, params.CaseID, params.Role, params.Content).
		Scan(&m.ID, &m.CaseID, &m.Role, &m.Content, &m.CreatedAt)
	return m, err
}

func (s *CaseStore) ListMessages(ctx context.Context, caseID string) ([]Message, error) {
	rows, err := s.conn.Query(ctx, listMessagesSQL, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

type AddCaseFileParams struct {
	CaseID  string
	Name    string
	FileKey string
}

func (s *CaseStore) AddCaseFile(ctx context.Context, params AddCaseFileParams) (CaseFile, error) {
	id, err := gonanoid.New()
	if err != nil {
		return CaseFile{}, err
	}

	var f CaseFile
	err = s.conn.QueryRow(ctx, addCaseFileSQL, id, params.CaseID, params.Name, params.FileKey, FileStatusPending).
		Scan(&f.ID, &f.CaseID, &f.Name, &f.FileKey, &f.Status, &f.CreatedAt)
	return f, err
}

func (s *CaseStore) GetCaseFile(ctx context.Context, id string) (CaseFile, error) {
	var f CaseFile
	err := s.conn.QueryRow(ctx, getCaseFileSQL, id).
		Scan(&f.ID, &f.CaseID, &f.Name, &f.FileKey, &f.Status, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CaseFile{}, ErrNotFound
	}
	return f, err
}

func (s *CaseStore) ListCaseFiles(ctx context.Context, caseID string) ([]CaseFile, error) {
	rows, err := s.conn.Query(ctx, listCaseFilesSQL, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []CaseFile{}
	for rows.Next() {
		var f CaseFile
		if err := rows.Scan(&f.ID, &f.CaseID, &f.Name, &f.FileKey, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *CaseStore) SetCaseFileStatus(ctx context.Context, id string, status string) error {
	_, err := s.conn.Exec(ctx, setCaseFileStatusSQL, id, status)
	return err
}

const createCaseSQL = `
INSERT INTO cases (id, user_id, title)
VALUES ($1, $2, $3)
RETURNING id, user_id, title, created_at, updated_at;
`

const getCaseSQL = `
SELECT id, user_id, title, created_at, updated_at
FROM cases
WHERE id = $1;
`

const listCasesSQL = `
SELECT id, user_id, title, created_at, updated_at
FROM cases
WHERE user_id = $1
ORDER BY updated_at DESC;
`

const deleteCaseSQL = `
DELETE FROM cases
WHERE id = $1;
`

const touchCaseSQL = `
UPDATE cases
SET updated_at = now()
WHERE id = $1;
`

const addMessageSQL = `
INSERT INTO messages (id, case_id, role, content)
VALUES ($1, $2, $3, $4)
RETURNING id, case_id, role, content, created_at;
`

const listMessagesSQL = `
SELECT id, case_id, role, content, created_at
FROM messages
WHERE case_id = $1
ORDER BY created_at ASC;
`

const addCaseFileSQL = `
INSERT INTO case_files (id, case_id, name, file_key, status)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, case_id, name, file_key, status, created_at;
`

const getCaseFileSQL = `
SELECT id, case_id, name, file_key, status, created_at
FROM case_files
WHERE id = $1;
`

const listCaseFilesSQL = `
SELECT id, case_id, name, file_key, status, created_at
FROM case_files
WHERE case_id = $1
ORDER BY created_at ASC;
`

const setCaseFileStatusSQL = `
UPDATE case_files
SET status = $2
WHERE id = $1;
`

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields a review pass can be narrowed to.
const (
	FieldTitle = "title"
	FieldBody  = "body"
)

const proposalColumns = `p.id, p.record_id, p.proposed_title, p.proposed_body, p.model,
	p.prompt_tokens, p.completion_tokens, p.latency_ms, p.generated_at,
	p.status, p.reason, p.decided_at`

func scanProposal(s scanner, extra ...interface{}) (Proposal, error) {
	var p Proposal
	var status string
	var decided sql.NullTime
	dest := []interface{}{
		&p.ID, &p.RecordID, &p.ProposedTitle, &p.ProposedBody, &p.Model,
		&p.PromptTokens, &p.CompletionTokens, &p.LatencyMs, &p.GeneratedAt,
		&status, &p.Reason, &decided,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return Proposal{}, err
	}
	p.Status = Status(status)
	if decided.Valid {
		t := decided.Time
		p.DecidedAt = &t
	}
	return p, nil
}

// NormalizeField maps a review filter to a known field. "" means no filter;
// "description" is accepted as an alias for the body.
func NormalizeField(field string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "":
		return "", nil
	case FieldTitle:
		return FieldTitle, nil
	case FieldBody, "description", "text":
		return FieldBody, nil
	default:
		return "", fmt.Errorf("unknown field %q (want %q or %q)", field, FieldTitle, FieldBody)
	}
}

// CreateProposal stores a new pending proposal for recordID. Any proposal
// still pending for the same record is marked rejected with
// ReasonSuperseded in the same transaction, so a record never has two
// pending proposals and earlier suggestions stay in the history.
func CreateProposal(ctx context.Context, conn *sql.DB, recordID int64, d Draft) (*Proposal, error) {
	if d.Body == "" {
		return nil, fmt.Errorf("proposal body must be non-empty")
	}
	generatedAt := d.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}
	p := &Proposal{
		ID:               uuid.Must(uuid.NewV7()).String(),
		RecordID:         recordID,
		ProposedTitle:    d.Title,
		ProposedBody:     d.Body,
		Model:            d.Model,
		PromptTokens:     d.PromptTokens,
		CompletionTokens: d.CompletionTokens,
		LatencyMs:        d.LatencyMs,
		GeneratedAt:      generatedAt.UTC(),
		Status:           StatusPending,
	}

	err := runTx(ctx, conn, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, recordID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record %d: %w", recordID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, reason = ?, decided_at = ? WHERE record_id = ? AND status = ?`,
			StatusRejected, ReasonSuperseded, p.GeneratedAt, recordID, StatusPending,
		); err != nil {
			return fmt.Errorf("supersede pending proposal: %w", err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO proposals
			(id, record_id, proposed_title, proposed_body, model, prompt_tokens, completion_tokens, latency_ms, generated_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.RecordID, p.ProposedTitle, p.ProposedBody, p.Model,
			p.PromptTokens, p.CompletionTokens, p.LatencyMs, p.GeneratedAt, p.Status)
		if err != nil {
			return fmt.Errorf("insert proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProposal returns the proposal with the given id or ErrNotFound.
func GetProposal(db DBExecutor, id string) (*Proposal, error) {
	p, err := scanProposal(db.QueryRow(`SELECT `+proposalColumns+` FROM proposals p WHERE p.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proposal %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProposalsForRecord returns every proposal for a record, oldest first.
func ListProposalsForRecord(db DBExecutor, recordID int64) ([]Proposal, error) {
	rows, err := db.Query(`SELECT `+proposalColumns+` FROM proposals p WHERE p.record_id = ? ORDER BY p.generated_at, p.id`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListPending returns pending proposals with their current records, ordered
// by record id. A non-empty field keeps only proposals that would change
// that field of the record.
func ListPending(db DBExecutor, field string) ([]PendingProposal, error) {
	field, err := NormalizeField(field)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + proposalColumns + `, r.` + strings.ReplaceAll(recordColumns, ", ", ", r.") + `
		FROM proposals p JOIN records r ON r.id = p.record_id
		WHERE p.status = ?`
	switch field {
	case FieldBody:
		query += ` AND p.proposed_body != r.body`
	case FieldTitle:
		query += ` AND p.proposed_title != '' AND p.proposed_title != r.title`
	}
	query += ` ORDER BY p.record_id, p.id`

	rows, err := db.Query(query, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingProposal
	for rows.Next() {
		var pp PendingProposal
		var source sql.NullString
		r := &pp.Record
		p, err := scanProposal(rows, &r.ID, &r.Title, &r.Body, &source, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, err
		}
		pp.Proposal = p
		if source.Valid {
			r.Source = source.String
		}
		out = append(out, pp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ApproveProposal applies a pending proposal to its record and marks it
// approved in a single transaction. The status flip is conditional on the
// proposal still being pending, so of two racing approvals exactly one
// succeeds and the other gets ErrInvalidState.
func ApproveProposal(ctx context.Context, conn *sql.DB, id string) (*Proposal, error) {
	var approved *Proposal
	err := runTx(ctx, conn, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := decide(ctx, tx, id, StatusApproved, "", now); err != nil {
			return err
		}
		p, err := GetProposal(tx, id)
		if err != nil {
			return err
		}

		var res sql.Result
		if p.ProposedTitle != "" {
			res, err = tx.ExecContext(ctx, `UPDATE records SET title = ?, body = ?, updated_at = ? WHERE id = ?`,
				p.ProposedTitle, p.ProposedBody, now, p.RecordID)
		} else {
			res, err = tx.ExecContext(ctx, `UPDATE records SET body = ?, updated_at = ? WHERE id = ?`,
				p.ProposedBody, now, p.RecordID)
		}
		if err != nil {
			return fmt.Errorf("apply proposal %q: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return fmt.Errorf("record %d: %w", p.RecordID, ErrNotFound)
		}
		approved = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// RejectProposal marks a pending proposal rejected. The record is untouched.
func RejectProposal(ctx context.Context, conn *sql.DB, id, reason string) (*Proposal, error) {
	var rejected *Proposal
	err := runTx(ctx, conn, func(tx *sql.Tx) error {
		if err := decide(ctx, tx, id, StatusRejected, reason, time.Now().UTC()); err != nil {
			return err
		}
		p, err := GetProposal(tx, id)
		if err != nil {
			return err
		}
		rejected = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// decide moves a pending proposal to status. It returns ErrNotFound for an
// unknown id and ErrInvalidState when the proposal was already decided.
func decide(ctx context.Context, tx *sql.Tx, id string, status Status, reason string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = ?, reason = ?, decided_at = ? WHERE id = ? AND status = ?`,
		status, reason, at, id, StatusPending)
	if err != nil {
		return fmt.Errorf("update proposal %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM proposals WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("proposal %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("proposal %q is %s: %w", id, current, ErrInvalidState)
}

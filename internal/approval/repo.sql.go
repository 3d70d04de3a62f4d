package approval

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian/internal/platform/db"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Repository persists approval data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("approval repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// InsertRequest stores a new pending request with its payload snapshot.
func (r *Repository) InsertRequest(ctx context.Context, req Request) (int64, error) {
	if r == nil {
		return 0, errors.New("approval repository not initialised")
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.pool.QueryRow(ctx, `INSERT INTO approval_requests (entity_type, payload, status, requested_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, string(req.EntityType), payload, string(req.Status), req.RequestedBy).Scan(&id)
	return id, err
}

// GetRequest loads one request without locking it.
func (r *Repository) GetRequest(ctx context.Context, id int64) (Request, error) {
	if r == nil {
		return Request{}, errors.New("approval repository not initialised")
	}
	return scanRequest(r.pool.QueryRow(ctx, requestSelect+` WHERE id=$1`, id))
}

// ListRequests returns requests newest first, optionally filtered by status.
func (r *Repository) ListRequests(ctx context.Context, status Status, limit int) ([]Request, error) {
	if r == nil {
		return nil, errors.New("approval repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, requestSelect+` WHERE ($1 = '' OR status=$1) ORDER BY id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	requests := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// GetPolicy loads the policy for an entity type. A missing row reads as a
// disabled policy so new entity types execute immediately by default.
func (r *Repository) GetPolicy(ctx context.Context, entityType EntityType) (Policy, error) {
	if r == nil {
		return Policy{}, errors.New("approval repository not initialised")
	}
	var policy Policy
	var et string
	err := r.pool.QueryRow(ctx, `SELECT entity_type, enabled, required_capability, min_amount
FROM approval_policies WHERE entity_type=$1`, string(entityType)).
		Scan(&et, &policy.Enabled, &policy.RequiredCapability, &policy.MinAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{EntityType: entityType}, nil
		}
		return Policy{}, err
	}
	policy.EntityType = EntityType(et)
	return policy, nil
}

// UpsertPolicy stores or replaces one policy row.
func (r *Repository) UpsertPolicy(ctx context.Context, policy Policy) error {
	if r == nil {
		return errors.New("approval repository not initialised")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO approval_policies (entity_type, enabled, required_capability, min_amount, updated_at)
VALUES ($1,$2,$3,$4,NOW())
ON CONFLICT (entity_type) DO UPDATE SET enabled=EXCLUDED.enabled, required_capability=EXCLUDED.required_capability, min_amount=EXCLUDED.min_amount, updated_at=NOW()`,
		string(policy.EntityType), policy.Enabled, policy.RequiredCapability, policy.MinAmount)
	return err
}

// ListPolicies returns every configured policy.
func (r *Repository) ListPolicies(ctx context.Context) ([]Policy, error) {
	if r == nil {
		return nil, errors.New("approval repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT entity_type, enabled, required_capability, min_amount FROM approval_policies ORDER BY entity_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	policies := []Policy{}
	for rows.Next() {
		var policy Policy
		var et string
		if err := rows.Scan(&et, &policy.Enabled, &policy.RequiredCapability, &policy.MinAmount); err != nil {
			return nil, err
		}
		policy.EntityType = EntityType(et)
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}

func (r *txRepository) GetRequestForUpdate(ctx context.Context, id int64) (Request, error) {
	return scanRequest(r.tx.QueryRow(ctx, requestSelect+` WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) MarkDecided(ctx context.Context, id int64, status Status, reviewedBy int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE approval_requests SET status=$2, reviewed_by=$3, decided_at=$4 WHERE id=$1`,
		id, string(status), reviewedBy, time.Now().UTC())
	return err
}

func (r *txRepository) MarkExecuted(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE approval_requests SET status=$2, executed_at=$3 WHERE id=$1`,
		id, string(StatusExecuted), time.Now().UTC())
	return err
}

const requestSelect = `SELECT id, entity_type, payload, status, requested_by, COALESCE(reviewed_by, 0), decided_at, executed_at, created_at
FROM approval_requests`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var et, status string
	var payload []byte
	err := row.Scan(&req.ID, &et, &payload, &status, &req.RequestedBy, &req.ReviewedBy, &req.DecidedAt, &req.ExecutedAt, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, shared.ErrNotFound
		}
		return Request{}, err
	}
	if err := json.Unmarshal(payload, &req.Payload); err != nil {
		return Request{}, err
	}
	req.EntityType = EntityType(et)
	req.Status = Status(status)
	return req, nil
}

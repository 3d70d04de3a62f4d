package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/shared"
)

// Executor replays a snapshotted mutation. The stock ledger engine satisfies
// this; execution of an approved request runs through exactly the same code
// path as an ungated call.
type Executor interface {
	Receive(ctx context.Context, input ledger.ReceiveInput) (ledger.Movement, error)
	ConfirmSale(ctx context.Context, input ledger.SaleInput) (ledger.Movement, error)
	Adjust(ctx context.Context, input ledger.AdjustInput) (ledger.Movement, error)
	Transfer(ctx context.Context, input ledger.TransferInput) (ledger.TransferResult, error)
}

// Authorizer answers capability checks for reviewers.
type Authorizer interface {
	Can(ctx context.Context, actorID int64, action string) (bool, error)
}

// AuditPort receives one structured fact per state change.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard marks an execution attempt so a replay after a partial
// failure can detect it. shared.IdempotencyStore satisfies this.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// ErrSelfReview indicates a requester reviewing their own request.
var ErrSelfReview = errors.New("approval: requester cannot review own request")

// Service is the approval gate. It decides per policy whether a mutation
// executes immediately or becomes a pending request, and it guarantees an
// approved request executes exactly once.
type Service struct {
	repo  RepositoryPort
	exec  Executor
	authz Authorizer
	idem  IdempotencyGuard
	audit AuditPort
}

// NewService builds Service. authz and audit may be nil.
func NewService(repo RepositoryPort, exec Executor, authz Authorizer, idem IdempotencyGuard, audit AuditPort) *Service {
	return &Service{repo: repo, exec: exec, authz: authz, idem: idem, audit: audit}
}

// Submit routes a mutation through the gate. When the matching policy is
// enabled and the amount clears its threshold, the payload is snapshotted as
// a pending request; otherwise it executes right away.
func (s *Service) Submit(ctx context.Context, payload ActionPayload, actorID int64) (Outcome, error) {
	entityType, err := payload.EntityType()
	if err != nil {
		return Outcome{}, err
	}
	policy, err := s.repo.GetPolicy(ctx, entityType)
	if err != nil {
		return Outcome{}, err
	}
	if !gated(policy, payload) {
		stampActor(&payload, actorID)
		return s.execute(ctx, payload)
	}

	req := Request{
		EntityType:  entityType,
		Payload:     payload,
		Status:      StatusPending,
		RequestedBy: actorID,
	}
	id, err := s.repo.InsertRequest(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	req.ID = id
	s.recordAudit(ctx, actorID, "approval:SUBMIT", req)
	return Outcome{Pending: &req}, nil
}

// Request loads one request.
func (s *Service) Request(ctx context.Context, id int64) (Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// List returns requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	return s.repo.ListRequests(ctx, status, limit)
}

// Policies returns every configured policy.
func (s *Service) Policies(ctx context.Context) ([]Policy, error) {
	return s.repo.ListPolicies(ctx)
}

// SetPolicy stores a policy.
func (s *Service) SetPolicy(ctx context.Context, policy Policy, actorID int64) error {
	switch policy.EntityType {
	case EntityPurchaseReceive, EntitySaleConfirm, EntityStockAdjustment, EntityStockTransfer:
	default:
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidPayload, policy.EntityType)
	}
	if err := s.repo.UpsertPolicy(ctx, policy); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "approval:POLICY_SET",
			Entity:   "approval_policy",
			EntityID: string(policy.EntityType),
			Meta:     map[string]any{"enabled": policy.Enabled},
		})
	}
	return nil
}

// Review applies a reviewer verdict under the request's row lock. Approval
// replays the snapshot through the engine and marks the request EXECUTED in
// the same transaction, so a concurrent second approval observes the
// terminal state and becomes a no-op. If execution fails the transaction
// rolls back and the request stays reviewable.
func (s *Service) Review(ctx context.Context, id int64, decision Decision, reviewerID int64) (Request, Outcome, error) {
	if decision != DecisionApprove && decision != DecisionReject {
		return Request{}, Outcome{}, ErrInvalidDecision
	}

	var (
		req      Request
		out      Outcome
		reviewed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch req.Status {
		case StatusExecuted:
			// Already applied by an earlier approval; idempotent no-op.
			return nil
		case StatusRejected:
			return ErrAlreadyDecided
		case StatusApproved:
			if decision == DecisionReject {
				return ErrAlreadyDecided
			}
		case StatusPending:
		default:
			return fmt.Errorf("approval: request %d in unknown status %q", id, req.Status)
		}
		if req.RequestedBy == reviewerID {
			return ErrSelfReview
		}
		if err := s.checkCapability(ctx, reviewerID, req.EntityType); err != nil {
			return err
		}
		reviewed = true

		if decision == DecisionReject {
			applied, err := s.idem.Exists(ctx, idemKey(id))
			if err != nil {
				return err
			}
			if applied {
				// movements landed in a crashed approval attempt; rejecting
				// now would disown applied stock. Only an approve reconciles.
				return ErrAlreadyApplied
			}
			req.Status = StatusRejected
			return tx.MarkDecided(ctx, id, StatusRejected, reviewerID)
		}

		if req.Status == StatusPending {
			if err := tx.MarkDecided(ctx, id, StatusApproved, reviewerID); err != nil {
				return err
			}
		}
		// The key outlives this transaction: if a previous attempt applied
		// the movements but crashed before committing the status, the
		// conflict tells us to skip straight to marking EXECUTED.
		key := idemKey(id)
		switch err := s.idem.CheckAndInsert(ctx, key, "approval"); {
		case errors.Is(err, shared.ErrIdempotencyConflict):
		case err != nil:
			return err
		default:
			payload := req.Payload
			stampActor(&payload, req.RequestedBy)
			out, err = s.execute(ctx, payload)
			if err != nil {
				_ = s.idem.Delete(ctx, key)
				return err
			}
		}
		req.Status = StatusExecuted
		return tx.MarkExecuted(ctx, id)
	})
	if err != nil {
		return Request{}, Outcome{}, err
	}
	if reviewed {
		action := "approval:REJECT"
		if decision == DecisionApprove {
			action = "approval:APPROVE"
		}
		s.recordAudit(ctx, reviewerID, action, req)
	}
	return req, out, nil
}

func (s *Service) execute(ctx context.Context, payload ActionPayload) (Outcome, error) {
	switch {
	case payload.Receive != nil:
		mv, err := s.exec.Receive(ctx, *payload.Receive)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Movement: &mv}, nil
	case payload.Sale != nil:
		mv, err := s.exec.ConfirmSale(ctx, *payload.Sale)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Movement: &mv}, nil
	case payload.Adjust != nil:
		mv, err := s.exec.Adjust(ctx, *payload.Adjust)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Movement: &mv}, nil
	case payload.Transfer != nil:
		res, err := s.exec.Transfer(ctx, *payload.Transfer)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Transfer: &res}, nil
	}
	return Outcome{}, ErrInvalidPayload
}

func (s *Service) checkCapability(ctx context.Context, reviewerID int64, entityType EntityType) error {
	if s.authz == nil {
		return nil
	}
	policy, err := s.repo.GetPolicy(ctx, entityType)
	if err != nil {
		return err
	}
	if policy.RequiredCapability == "" {
		return nil
	}
	ok, err := s.authz.Can(ctx, reviewerID, policy.RequiredCapability)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, req Request) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "approval_request",
		EntityID: fmt.Sprintf("%d", req.ID),
		Meta: map[string]any{
			"entity_type": string(req.EntityType),
			"status":      string(req.Status),
		},
	})
}

// gated reports whether the payload must defer for review. The min-amount
// threshold narrows gating for receives only; every other enabled entity
// type is always deferred.
func gated(policy Policy, payload ActionPayload) bool {
	if !policy.Enabled {
		return false
	}
	if payload.Receive != nil && policy.MinAmount != nil && payload.Receive.Quantity < *policy.MinAmount {
		return false
	}
	return true
}

func idemKey(id int64) string {
	return fmt.Sprintf("approval:%d", id)
}

func stampActor(payload *ActionPayload, actorID int64) {
	switch {
	case payload.Receive != nil:
		in := *payload.Receive
		in.ActorID = actorID
		payload.Receive = &in
	case payload.Sale != nil:
		in := *payload.Sale
		in.ActorID = actorID
		payload.Sale = &in
	case payload.Adjust != nil:
		in := *payload.Adjust
		in.ActorID = actorID
		payload.Adjust = &in
	case payload.Transfer != nil:
		in := *payload.Transfer
		in.ActorID = actorID
		payload.Transfer = &in
	}
}

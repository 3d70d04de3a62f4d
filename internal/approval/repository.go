package approval

import "context"

// TxRepository is the transactional surface used while reviewing a request.
type TxRepository interface {
	// GetRequestForUpdate loads one request under a row lock for the
	// remainder of the transaction.
	GetRequestForUpdate(ctx context.Context, id int64) (Request, error)
	// MarkDecided records the reviewer verdict.
	MarkDecided(ctx context.Context, id int64, status Status, reviewedBy int64) error
	// MarkExecuted stamps the terminal executed state.
	MarkExecuted(ctx context.Context, id int64) error
}

// RepositoryPort persists approval policies and requests.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertRequest(ctx context.Context, req Request) (int64, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	ListRequests(ctx context.Context, status Status, limit int) ([]Request, error)
	GetPolicy(ctx context.Context, entityType EntityType) (Policy, error)
	UpsertPolicy(ctx context.Context, policy Policy) error
	ListPolicies(ctx context.Context) ([]Policy, error)
}

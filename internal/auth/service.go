package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-ims/meridian/internal/shared"
)

const (
	tokenPrefix = "mer"
	// Cached verdicts expire quickly so a revocation takes effect within
	// this window without a cache purge.
	cacheTTL = time.Minute
)

// Service issues and verifies API tokens of the form mer_<id>_<secret>.
type Service struct {
	pool  *pgxpool.Pool
	cache *redis.Client
}

// NewService constructs Service. cache may be nil.
func NewService(pool *pgxpool.Pool, cache *redis.Client) *Service {
	return &Service{pool: pool, cache: cache}
}

// Issue creates a token for the user and returns its one-time plaintext.
func (s *Service) Issue(ctx context.Context, userID int64, name string) (IssuedToken, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return IssuedToken{}, errors.New("auth: token name required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return IssuedToken{}, err
	}
	secret := hex.EncodeToString(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return IssuedToken{}, err
	}

	var token Token
	err = s.pool.QueryRow(ctx, `INSERT INTO api_tokens (user_id, name, secret_hash, created_at)
VALUES ($1,$2,$3,NOW()) RETURNING id, user_id, name, created_at`, userID, name, string(hash)).
		Scan(&token.ID, &token.UserID, &token.Name, &token.CreatedAt)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		Token:     token,
		Plaintext: fmt.Sprintf("%s_%d_%s", tokenPrefix, token.ID, secret),
	}, nil
}

// Authenticate verifies a bearer value and returns the actor it belongs to.
func (s *Service) Authenticate(ctx context.Context, raw string) (*shared.Actor, error) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != tokenPrefix || parts[2] == "" {
		return nil, ErrTokenMalformed
	}
	tokenID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	if actor := s.cachedActor(ctx, raw); actor != nil {
		return actor, nil
	}

	var (
		secretHash string
		revokedAt  *time.Time
		actor      shared.Actor
	)
	err = s.pool.QueryRow(ctx, `SELECT t.secret_hash, t.revoked_at, u.id, u.name
FROM api_tokens t
JOIN users u ON u.id = t.user_id
WHERE t.id = $1`, tokenID).Scan(&secretHash, &revokedAt, &actor.ID, &actor.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenRevoked
		}
		return nil, err
	}
	if revokedAt != nil {
		return nil, ErrTokenRevoked
	}
	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(parts[2])) != nil {
		return nil, shared.ErrInvalidToken
	}
	s.storeActor(ctx, raw, actor)
	return &actor, nil
}

// Revoke marks a token revoked. Cached verdicts age out within cacheTTL.
func (s *Service) Revoke(ctx context.Context, tokenID, userID int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_tokens SET revoked_at=NOW()
WHERE id=$1 AND user_id=$2 AND revoked_at IS NULL`, tokenID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// List returns the user's tokens, newest first.
func (s *Service) List(ctx context.Context, userID int64) ([]Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, user_id, name, created_at, revoked_at
FROM api_tokens WHERE user_id=$1 ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tokens := []Token{}
	for rows.Next() {
		var token Token
		if err := rows.Scan(&token.ID, &token.UserID, &token.Name, &token.CreatedAt, &token.RevokedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (s *Service) cachedActor(ctx context.Context, raw string) *shared.Actor {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, cacheKey(raw)).Bytes()
	if err != nil {
		return nil
	}
	var actor shared.Actor
	if json.Unmarshal(payload, &actor) != nil {
		return nil
	}
	return &actor
}

func (s *Service) storeActor(ctx context.Context, raw string, actor shared.Actor) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(actor)
	if err != nil {
		return
	}
	s.cache.Set(ctx, cacheKey(raw), payload, cacheTTL)
}

func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return "auth:token:" + hex.EncodeToString(sum[:])
}

package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals an unknown post reference.
var ErrNotFound = errors.New("listing: not found")

// PostReader abstracts repository operations for the service.
type PostReader interface {
	GetByReference(ctx context.Context, reference string) (Post, error)
}

// Service exposes the listing collaborator operations consumed by the
// collaboration engine.
type Service struct {
	repo PostReader
}

func NewService(repo PostReader) *Service {
	return &Service{repo: repo}
}

// Exists reports whether a post reference points at a known listing or
// search ad. Used as the proposal-time validity check.
func (s *Service) Exists(ctx context.Context, reference string) (bool, error) {
	_, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// TransactionValue returns the known final price for a reference, or nil
// when the deal has no recorded value yet.
func (s *Service) TransactionValue(ctx context.Context, reference string) (*float64, error) {
	post, err := s.repo.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return post.TransactionValue, nil
}

// PGRepository implements PostReader backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetByReference(ctx context.Context, reference string) (Post, error) {
	const selectSQL = `
		SELECT id, reference, kind, owner_user_id, transaction_value, created_at
		FROM listings
		WHERE reference = $1
	`

	var (
		post Post
		kind string
	)
	err := r.pool.QueryRow(ctx, selectSQL, reference).Scan(
		&post.ID,
		&post.Reference,
		&kind,
		&post.OwnerUserID,
		&post.TransactionValue,
		&post.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, ErrNotFound
		}
		return Post{}, fmt.Errorf("listing: get by reference: %w", err)
	}
	post.Kind = Kind(kind)
	return post, nil
}

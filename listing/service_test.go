package listing

import (
	"context"
	"errors"
	"testing"
)

type stubRepo struct {
	posts map[string]Post
	err   error
}

func (s *stubRepo) GetByReference(ctx context.Context, reference string) (Post, error) {
	if s.err != nil {
		return Post{}, s.err
	}
	post, ok := s.posts[reference]
	if !ok {
		return Post{}, ErrNotFound
	}
	return post, nil
}

func TestExists(t *testing.T) {
	value := 250000.0
	svc := NewService(&stubRepo{posts: map[string]Post{
		"post-1": {ID: "l1", Reference: "post-1", Kind: KindAnnonce, TransactionValue: &value},
	}})

	ok, err := svc.Exists(context.Background(), "post-1")
	if err != nil || !ok {
		t.Fatalf("Exists(post-1) = %v, %v", ok, err)
	}
	ok, err = svc.Exists(context.Background(), "post-2")
	if err != nil || ok {
		t.Fatalf("Exists(post-2) = %v, %v", ok, err)
	}
}

func TestExists_RepoError(t *testing.T) {
	boom := errors.New("boom")
	svc := NewService(&stubRepo{err: boom})
	if _, err := svc.Exists(context.Background(), "post-1"); !errors.Is(err, boom) {
		t.Fatalf("expected repo error to surface, got %v", err)
	}
}

func TestTransactionValue(t *testing.T) {
	value := 180000.0
	svc := NewService(&stubRepo{posts: map[string]Post{
		"post-1": {Reference: "post-1", TransactionValue: &value},
		"post-2": {Reference: "post-2"},
	}})

	got, err := svc.TransactionValue(context.Background(), "post-1")
	if err != nil || got == nil || *got != value {
		t.Fatalf("TransactionValue(post-1) = %v, %v", got, err)
	}
	got, err = svc.TransactionValue(context.Background(), "post-2")
	if err != nil || got != nil {
		t.Fatalf("TransactionValue(post-2) = %v, %v", got, err)
	}
	if _, err := svc.TransactionValue(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

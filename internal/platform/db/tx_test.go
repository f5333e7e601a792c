package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

// fakeTx satisfies pgx.Tx through embedding; only identity matters here.
type fakeTx struct{ pgx.Tx }

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestWithTx_JoinsExisting(t *testing.T) {
	outer := &fakeTx{}
	ctx := context.WithValue(context.Background(), txKey{}, pgx.Tx(outer))

	var seen pgx.Tx
	err := WithTx(ctx, nil, func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != outer {
		t.Error("expected inner call to reuse outer transaction")
	}
}

func TestWithTx_JoinedErrorPropagates(t *testing.T) {
	ctx := context.WithValue(context.Background(), txKey{}, pgx.Tx(&fakeTx{}))
	want := errors.New("boom")
	if err := WithTx(ctx, nil, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

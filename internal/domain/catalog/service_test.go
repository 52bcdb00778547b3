package catalog

import (
	"context"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cartledger/internal/docstore"
)

func seedProduct(t *testing.T, store *docstore.Memory, p *Product) {
	t.Helper()
	err := store.RunTransaction(context.Background(), func(_ context.Context, tx docstore.Tx) error {
		return Save(tx, p)
	})
	require.NoError(t, err)
}

func loadProduct(t *testing.T, store *docstore.Memory, id string) *Product {
	t.Helper()
	p, err := NewRepo(store).GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestApplyDiscount_ScalarProduct(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	seedProduct(t, store, &Product{ID: "p1", Name: "Mug", Price: dec("100")})

	err := svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountPercentage, Amount: dec("20")}, nil)
	require.NoError(t, err)

	p := loadProduct(t, store, "p1")
	assert.True(t, p.HasDiscount)
	assert.True(t, dec("80.00").Equal(p.Price), "got %s", p.Price)
	assert.True(t, dec("100").Equal(p.OriginalPrice))
}

func TestApplyDiscount_OverExisting_DoesNotCompound(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	seedProduct(t, store, &Product{ID: "p1", Price: dec("9.99")})

	require.NoError(t, svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountPercentage, Amount: dec("33")}, nil))
	require.NoError(t, svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountPercentage, Amount: dec("10")}, nil))

	p := loadProduct(t, store, "p1")
	// Second discount computes from the preserved 9.99 base, not from 6.69.
	assert.True(t, dec("8.99").Equal(p.Price), "got %s", p.Price)
	assert.True(t, dec("9.99").Equal(p.OriginalPrice))
}

func TestRemoveDiscount_RestoresOriginalExactly(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	seedProduct(t, store, &Product{ID: "p1", Price: dec("9.99")})

	// Repeated apply/remove cycles must not drift the price.
	for range 5 {
		require.NoError(t, svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountPercentage, Amount: dec("33")}, nil))
		require.NoError(t, svc.RemoveDiscount(ctx, "p1"))
	}

	p := loadProduct(t, store, "p1")
	assert.False(t, p.HasDiscount)
	assert.Empty(t, string(p.DiscountKind))
	assert.Nil(t, p.DiscountExpiresAt)
	assert.True(t, dec("9.99").Equal(p.Price), "got %s", p.Price)
	assert.True(t, p.OriginalPrice.IsZero())
}

func TestApplyDiscount_VariantProduct(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	seedProduct(t, store, &Product{
		ID:          "p1",
		HasVariants: true,
		Variants: []Variant{
			{Size: "S", Price: dec("10"), Stock: 3},
			{Size: "M", Price: dec("12"), Stock: 3},
		},
	})

	require.NoError(t, svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountFixed, Amount: dec("2")}, nil))

	p := loadProduct(t, store, "p1")
	assert.True(t, dec("8.00").Equal(p.Variants[0].Price))
	assert.True(t, dec("10").Equal(p.Variants[0].OriginalPrice))
	assert.True(t, dec("10.00").Equal(p.Variants[1].Price))

	require.NoError(t, svc.RemoveDiscount(ctx, "p1"))
	p = loadProduct(t, store, "p1")
	assert.True(t, dec("10").Equal(p.Variants[0].Price))
	assert.True(t, dec("12").Equal(p.Variants[1].Price))
}

func TestApplyDiscount_Validation(t *testing.T) {
	svc := NewService(docstore.NewMemory(), nil)
	ctx := context.Background()

	for _, d := range []Discount{
		{Kind: DiscountPercentage, Amount: dec("0")},
		{Kind: DiscountPercentage, Amount: dec("100")},
		{Kind: DiscountPercentage, Amount: dec("-5")},
		{Kind: DiscountFixed, Amount: dec("0")},
		{Kind: "mystery", Amount: dec("5")},
	} {
		err := svc.ApplyDiscount(ctx, "p1", d, nil)
		assert.ErrorIs(t, err, ErrInvalidDiscount, "discount %+v", d)
	}
}

func TestSetBasePrice_ReappliesActiveDiscount(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	seedProduct(t, store, &Product{ID: "p1", Price: dec("100")})

	require.NoError(t, svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountPercentage, Amount: dec("20")}, nil))
	require.NoError(t, svc.SetBasePrice(ctx, "p1", "", "", dec("50")))

	p := loadProduct(t, store, "p1")
	assert.True(t, dec("40.00").Equal(p.Price), "got %s", p.Price)
	assert.True(t, dec("50").Equal(p.OriginalPrice))
}

type failingInvalidator struct{ err error }

func (f failingInvalidator) InvalidateProducts(context.Context, ...string) error { return f.err }

func TestInvalidationFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	store := docstore.NewMemory()
	svc := NewService(store, failingInvalidator{err: assert.AnError})
	seedProduct(t, store, &Product{ID: "p1", Price: dec("100")})

	// The mutation commits despite the dead cache.
	require.NoError(t, svc.ApplyDiscount(ctx, "p1", Discount{Kind: DiscountFixed, Amount: dec("5")}, nil))
	p := loadProduct(t, store, "p1")
	assert.True(t, dec("95.00").Equal(p.Price), "got %s", p.Price)

	require.NoError(t, svc.SetStock(ctx, "p1", "", "", 7))

	entries := logs.FilterMessage("Cache invalidation failed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].ContextMap()["product_id"])
}

func TestSetStock(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	svc := NewService(store, nil)
	seedProduct(t, store, &Product{
		ID:          "p1",
		HasVariants: true,
		Variants:    []Variant{{Size: "S", Color: "Red", Stock: 1}},
	})

	require.NoError(t, svc.SetStock(ctx, "p1", "S", "Red", 9))
	p := loadProduct(t, store, "p1")
	assert.Equal(t, 9, p.Variants[0].Stock)

	assert.ErrorIs(t, svc.SetStock(ctx, "p1", "S", "Red", -1), ErrNegativeStock)
	assert.ErrorIs(t, svc.SetStock(ctx, "p1", "XL", "", 5), ErrVariantNotFound)
	assert.ErrorIs(t, svc.SetStock(ctx, "nope", "", "", 5), ErrNotFound)
}

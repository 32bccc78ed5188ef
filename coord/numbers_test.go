package coord

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func testLogger() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func sequence() NextFunc {
	return func(ctx context.Context, attempt int) (string, error) {
		return fmt.Sprintf("N-%d", attempt), nil
	}
}

func TestNumberGeneratorFirstTry(t *testing.T) {
	inserts := 0
	generator, err := NewNumberGenerator(testLogger(), sequence(), func(ctx context.Context, number string) error {
		inserts++
		return nil
	})
	require.NoError(t, err)

	result, err := generator.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "N-1", result.Number)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, inserts)
}

func TestNumberGeneratorRetriesOnConflict(t *testing.T) {
	inserts := 0
	insert := func(ctx context.Context, number string) error {
		inserts++
		if inserts < 3 {
			return types.Errorf(types.ErrNumberConflict, "number taken: %s", number)
		}
		return nil
	}

	generator, err := NewNumberGenerator(testLogger(), sequence(), insert, GeneratorConfig{
		BaseDelay: time.Millisecond,
	})
	require.NoError(t, err)

	result, err := generator.Generate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "N-3", result.Number)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, inserts)
}

func TestNumberGeneratorExhaustsAttempts(t *testing.T) {
	inserts := 0
	insert := func(ctx context.Context, number string) error {
		inserts++
		return types.ErrNumberConflict
	}

	generator, err := NewNumberGenerator(testLogger(), sequence(), insert, GeneratorConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	require.NoError(t, err)

	result, err := generator.Generate(context.Background())
	assert.True(t, types.IsError(err, types.ErrNumberExhausted))
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, inserts)
}

func TestNumberGeneratorDefaultBudget(t *testing.T) {
	inserts := 0
	insert := func(ctx context.Context, number string) error {
		inserts++
		return types.ErrNumberConflict
	}

	generator, err := NewNumberGenerator(testLogger(), sequence(), insert, GeneratorConfig{
		BaseDelay: time.Millisecond,
	})
	require.NoError(t, err)

	_, err = generator.Generate(context.Background())
	assert.True(t, types.IsError(err, types.ErrNumberExhausted))
	assert.Equal(t, 5, inserts)
}

func TestNumberGeneratorInsertHardFailure(t *testing.T) {
	inserts := 0
	insert := func(ctx context.Context, number string) error {
		inserts++
		return fmt.Errorf("connection reset")
	}

	generator, err := NewNumberGenerator(testLogger(), sequence(), insert)
	require.NoError(t, err)

	result, err := generator.Generate(context.Background())
	require.Error(t, err)

	// Anything but a uniqueness conflict aborts without retrying.
	assert.False(t, types.IsError(err, types.ErrNumberConflict))
	assert.False(t, types.IsError(err, types.ErrNumberExhausted))
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, inserts)
}

func TestNumberGeneratorNextFailure(t *testing.T) {
	next := func(ctx context.Context, attempt int) (string, error) {
		return "", fmt.Errorf("sequence source offline")
	}
	insert := func(ctx context.Context, number string) error {
		t.Fatal("insert must not run without a candidate")
		return nil
	}

	generator, err := NewNumberGenerator(testLogger(), next, insert)
	require.NoError(t, err)

	result, err := generator.Generate(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, result.Attempts)
}

func TestNumberGeneratorCancelledDuringBackoff(t *testing.T) {
	insert := func(ctx context.Context, number string) error {
		return types.ErrNumberConflict
	}

	generator, err := NewNumberGenerator(testLogger(), sequence(), insert, GeneratorConfig{
		BaseDelay: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := generator.Generate(ctx)
	assert.True(t, types.IsError(err, context.DeadlineExceeded))
	assert.Equal(t, 1, result.Attempts)
}

func TestNumberGeneratorValidation(t *testing.T) {
	insert := func(ctx context.Context, number string) error { return nil }

	_, err := NewNumberGenerator(testLogger(), nil, insert)
	assert.True(t, types.IsError(err, types.ErrInvalidParameter))

	_, err = NewNumberGenerator(testLogger(), sequence(), nil)
	assert.True(t, types.IsError(err, types.ErrInvalidParameter))
}

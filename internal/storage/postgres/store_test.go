package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
)

func TestSchemaNameIsPerTarget(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000Ab")
	a := SchemaName(model.NewOrderbookIdentifier(1, addr))
	b := SchemaName(model.NewOrderbookIdentifier(137, addr))

	assert.Equal(t, "ob_1_00000000000000000000000000000000000000ab", a)
	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(b), 63)
}

func TestIsContention(t *testing.T) {
	serialization := fmt.Errorf("statement 2 of 3: %w", &pgconn.PgError{Code: "40001"})
	assert.True(t, IsContention(serialization))
	assert.True(t, IsContention(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, IsContention(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsContention(errors.New("boom")))
}

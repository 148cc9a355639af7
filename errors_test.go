package da

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigError(t *testing.T) {
	assert := assert.New(t)

	err := Configf("lag %d is not a multiple of shift %d", 9, 2)
	assert.Equal("config: lag 9 is not a multiple of shift 2", err.Error())

	var cerr *ConfigError
	assert.ErrorAs(err, &cerr)
}

func TestNumericError(t *testing.T) {
	assert := assert.New(t)

	err := Numericf("svd", "factorization failed")
	assert.Equal("numeric: svd: factorization failed", err.Error())

	var nerr *NumericError
	assert.ErrorAs(err, &nerr)
	assert.Equal("svd", nerr.Op)

	// wrapped errors survive a fmt round trip
	wrapped := fmt.Errorf("cycle 12: %w", err)
	assert.True(errors.As(wrapped, &nerr))
}

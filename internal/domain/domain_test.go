package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdprio/internal/domain"
)

func TestItemFromRow(t *testing.T) {
	td, err := domain.ItemFromRow([]any{false, 1.5, 2, -3, 0, 2.0, true, 7})
	require.NoError(t, err)
	assert.Equal(t, domain.TechDebtItem{Spend: 1.5, Defined: 2, LinesChanged: -3, RemediationTime: 2, Last: true, ID: 7}, td)

	for name, row := range map[string][]any{
		"short":          {false, 1, 2},
		"fractional id":  {false, 1, 2, 3, 0, 0, false, 1.5},
		"fractional loc": {false, 1, 2, 0.5, 0, 0, false, 1},
		"string spend":   {false, "1", 2, 3, 0, 0, false, 1},
		"int flag":       {0, 1, 2, 3, 0, 0, false, 1},
	} {
		_, err := domain.ItemFromRow(row)
		assert.Error(t, err, name)
	}
}

func TestMetricsTupleRoundTrip(t *testing.T) {
	vals := make([]float64, domain.MetricsFieldCount)
	for i := range vals {
		vals[i] = float64(i + 1)
	}
	m, err := domain.MetricsFromValues(vals)
	require.NoError(t, err)
	assert.Equal(t, 2.0, m.Lines)
	assert.Equal(t, 20.0, m.RemEffRel)
	assert.Equal(t, vals, m.Values())
	assert.Equal(t, "rem_eff_rel", domain.MetricNames[19])

	_, err = domain.MetricsFromValues(vals[:20])
	require.Error(t, err)
}

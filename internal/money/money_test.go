package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentOfRoundsHalfUp(t *testing.T) {
	assert.Equal(t, Cents(260), PercentOf(3249, 8))
	assert.Equal(t, Cents(1), PercentOf(50, 1))
	assert.Equal(t, Cents(0), PercentOf(0, 8))
	assert.Equal(t, Cents(11), PercentOf(100, 11))
}

func TestCentsJSON(t *testing.T) {
	payload, err := json.Marshal(struct {
		Total Cents `json:"total"`
	}{Total: 3509})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":35.09}`, string(payload))

	var decoded struct {
		Paid Cents `json:"paid"`
		Due  Cents `json:"due"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"paid":40,"due":"4.91"}`), &decoded))
	assert.Equal(t, Cents(4000), decoded.Paid)
	assert.Equal(t, Cents(491), decoded.Due)
}

func TestCentsRejectsSubCentPrecision(t *testing.T) {
	var c Cents
	err := json.Unmarshal([]byte(`12.345`), &c)
	require.Error(t, err)

	_, err = Parse("abc")
	require.Error(t, err)
}

func TestWholeUnits(t *testing.T) {
	assert.Equal(t, int64(35), Cents(3509).WholeUnits())
	assert.Equal(t, int64(0), Cents(99).WholeUnits())
	assert.Equal(t, "35.09", Cents(3509).String())
}

package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCatalog(t *testing.T) {
	data := []byte(`[
		{"id":"jkt-01","name":"Leather Jacket","price":249.90,"category":"apparel","image":{"thumbnail":"x.jpg"}},
		{"id":"hlm-03","name":"Carbon Helmet","price":599,"category":"helmets"}
	]`)

	products, err := ParseCatalog(data)
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "jkt-01", products[0].ID)
	assert.Equal(t, "Leather Jacket", products[0].Name)
	assert.True(t, decimal.RequireFromString("249.90").Equal(products[0].Price))
	assert.Equal(t, "helmets", products[1].Category)
	assert.True(t, decimal.NewFromInt(599).Equal(products[1].Price))
}

func TestParseCatalog_Errors(t *testing.T) {
	for name, data := range map[string]string{
		"not an array": `{"id":"x"}`,
		"missing id":   `[{"name":"Nameless","price":1}]`,
		"bad price":    `[{"id":"x","price":"cheap"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(data))
			require.Error(t, err)
		})
	}
}

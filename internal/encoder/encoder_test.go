package encoder

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghgrag/internal/domain"
	"ghgrag/internal/tabular"
)

const csv = "2022 NAICS Title,2022 NAICS Code,GHG,Unit,Supply Chain Emission Factors without Margins,Margins of Supply Chain Emission Factors,Supply Chain Emission Factors with Margins\n" +
	"Soybean Farming,111110,All GHGs,kg CO2e/2022 USD,0.5,0.1,0.6\n" +
	"Beef Cattle Ranching,112111,CO2,kg CO2e/2022 USD,2,0,2\n"

func load(t *testing.T) *tabular.Table {
	t.Helper()
	tbl, err := tabular.Load(strings.NewReader(csv), tabular.Options{})
	require.NoError(t, err)
	return tbl
}

func TestRenderFixedOrder(t *testing.T) {
	doc, err := Render(load(t), 0)
	require.NoError(t, err)
	want := "NAICS Code: 111110\n" +
		"Title: Soybean Farming\n" +
		"GHG: All GHGs\n" +
		"Unit: kg CO2e/2022 USD\n" +
		"Supply Chain Emission Factors without Margins: 0.5\n" +
		"Margins of Supply Chain Emission Factors: 0.1\n" +
		"Supply Chain Emission Factors with Margins: 0.6\n"
	assert.Equal(t, want, doc.Content)
	assert.Equal(t, "row-0", doc.ID)
	assert.Equal(t, map[string]string{MetaRow: "0", MetaCode: "111110"}, doc.Metadata)
}

func TestRenderIsDeterministic(t *testing.T) {
	tbl := load(t)
	a, err := Render(tbl, 1)
	require.NoError(t, err)
	b, err := Render(tbl, 1)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Contains(t, a.Content, "Supply Chain Emission Factors without Margins: 2.0\n")
}

func TestRenderOutOfRange(t *testing.T) {
	_, err := Render(load(t), 5)
	assert.Error(t, err)
}

func TestRenderAll(t *testing.T) {
	docs, err := RenderAll(load(t), nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "112111", docs[1].Metadata[MetaCode])
}

func TestRenderAllEmptyTable(t *testing.T) {
	_, err := RenderAll(nil, nil)
	assert.True(t, errors.Is(err, domain.ErrNoDocuments))
}

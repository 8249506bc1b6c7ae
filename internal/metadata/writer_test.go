package metadata

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weldmaster/resultstore/internal/domain"
	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

func TestLayoutNames(t *testing.T) {
	id := uuid.MustParse("1f6a3c5e-0000-4000-8000-000000000001")
	assert.Equal(t, "1f6a3c5e-0000-4000-8000-000000000001-SN-17", InstanceDirName(id, 17))
	assert.Equal(t, "seam_series0003", SeamSeriesDirName(3))
	assert.Equal(t, "seam0012", SeamDirName(12))
	assert.Equal(t, filepath.Join("inst", "seam_series0000", "seam0001"), SeamDir("inst", 0, 1))
}

func TestWriteAndParseProduct(t *testing.T) {
	f := newFixture()
	a := NewAggregator()
	a.BeginSeam(f.seam00)
	a.AddNio(f.seam00.UUID, domain.NoResultsError)

	date := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	product, series := a.Build(ProductInfo{
		Product:        f.product,
		Instance:       uuid.New(),
		SerialNumber:   9,
		Date:           date,
		NioSwitchedOff: true,
	})

	dir := filepath.Join(t.TempDir(), "instance")
	w := NewWriter(utils.NewNopLogger())
	require.NoError(t, w.WriteProduct(dir, product))
	require.NoError(t, w.WriteSeamSeries(filepath.Join(dir, SeamSeriesDirName(0)), series[0]))

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, "2024-05-06T07:08:09.123Z", fields["date"])
	assert.Equal(t, true, fields["nioSwitchedOff"])
	assert.Equal(t, []interface{}{map[string]interface{}{"type": float64(1012), "count": float64(1)}}, fields["nio"])
	for _, key := range []string{"uuid", "serialNumber", "extendedProductInfo", "processedSeamSeries", "processedSeams", "productUuid", "productName", "productType"} {
		assert.Contains(t, fields, key)
	}

	parsed, err := ParseProduct(dir)
	require.NoError(t, err)
	assert.Equal(t, product.UUID, parsed.UUID)
	assert.Equal(t, uint32(9), parsed.SerialNumber)
	assert.True(t, parsed.Nio.Any())
	assert.True(t, parsed.Date.Time().Equal(date.Truncate(time.Millisecond)))

	parsedSeries, err := ParseSeamSeries(filepath.Join(dir, SeamSeriesDirName(0)))
	require.NoError(t, err)
	assert.Equal(t, f.s0.UUID, parsedSeries.UUID)
	require.Len(t, parsedSeries.ProcessedSeams, 1)
	assert.Equal(t, uint(1), parsedSeries.ProcessedSeams[0].Nio.Count(domain.NoResultsError))
}

func TestWriteSeamEmptyNioIsArray(t *testing.T) {
	f := newFixture()
	a := NewAggregator()
	a.BeginSeam(f.seam01)
	md, _ := a.SeamMetaData(f.seam01.UUID, false)

	dir := t.TempDir()
	require.NoError(t, NewWriter(utils.NewNopLogger()).WriteSeam(dir, md))

	raw, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"nio": []`)
	assert.NotContains(t, string(raw), "linkTo")

	parsed, err := ParseSeam(dir)
	require.NoError(t, err)
	assert.False(t, parsed.Nio.Any())
	assert.Equal(t, f.seam01.UUID, parsed.UUID)
}

func TestParseAcceptsBooleanNio(t *testing.T) {
	dir := t.TempDir()
	doc := `{"uuid":"5d3c7c2a-1b2f-4d4e-9f00-2c1d0a9b8e11","number":2,"seamSeries":0,` +
		`"seamSeriesUuid":"00000000-0000-0000-0000-000000000000","nio":true,"nioSwitchedOff":false}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0644))

	md, err := ParseSeam(dir)
	require.NoError(t, err)
	assert.True(t, md.Nio.Any())
	assert.Empty(t, md.Nio.Entries)
	assert.Equal(t, 2, md.Number)
}

func TestParseErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ParseProduct(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.NewError(errors.ErrCodeMetadataRead, ""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"nio":"yes"}`), 0644))
	_, err = ParseProduct(dir)
	assert.Error(t, err)
}

func TestWriteFailsOnBlockedDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	err := NewWriter(utils.NewNopLogger()).WriteSeam(filepath.Join(blocker, "seam"), SeamMetaData{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.NewError(errors.ErrCodeDirectoryCreate, ""))
}

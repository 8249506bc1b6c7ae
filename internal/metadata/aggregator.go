package metadata

import (
	"time"

	"github.com/google/uuid"

	"github.com/weldmaster/resultstore/internal/domain"
)

type seamEntry struct {
	uuid   uuid.UUID
	number int
	length int
	linkTo *uuid.UUID
	series *seriesEntry
	nios   Tally
}

type seriesEntry struct {
	uuid   uuid.UUID
	number int
	seams  []*seamEntry
}

// Aggregator collects the seams of one product instance and folds their NIO
// tallies into series and product records. Only seams carry counts; series
// and product values are sums of their children.
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	series     []*seriesEntry
	seriesByID map[uuid.UUID]*seriesEntry
	seamsByID  map[uuid.UUID]*seamEntry
	seams      []*seamEntry
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.Reset()
	return a
}

// Reset forgets all registered seams.
func (a *Aggregator) Reset() {
	a.series = nil
	a.seams = nil
	a.seriesByID = make(map[uuid.UUID]*seriesEntry)
	a.seamsByID = make(map[uuid.UUID]*seamEntry)
}

// BeginSeam registers seam and its series in order of first appearance. A
// seam seen again keeps its tally.
func (a *Aggregator) BeginSeam(seam *domain.Seam) {
	if seam == nil {
		return
	}
	if _, ok := a.seamsByID[seam.UUID]; ok {
		return
	}

	seriesID, seriesNumber := uuid.Nil, 0
	if s := seam.SeamSeries(); s != nil {
		seriesID, seriesNumber = s.UUID, s.Number
	}
	series, ok := a.seriesByID[seriesID]
	if !ok {
		series = &seriesEntry{uuid: seriesID, number: seriesNumber}
		a.seriesByID[seriesID] = series
		a.series = append(a.series, series)
	}

	entry := &seamEntry{
		uuid:   seam.UUID,
		number: seam.Number,
		length: seam.Length,
		series: series,
		nios:   make(Tally),
	}
	if link := seam.LinkTo(); link != nil {
		id := link.UUID
		entry.linkTo = &id
	}
	series.seams = append(series.seams, entry)
	a.seams = append(a.seams, entry)
	a.seamsByID[seam.UUID] = entry
}

// AddNio counts one NIO of type t on the seam. It reports false when the
// seam was never registered.
func (a *Aggregator) AddNio(seamID uuid.UUID, t domain.ResultType) bool {
	entry, ok := a.seamsByID[seamID]
	if !ok {
		return false
	}
	entry.nios.Add(t, 1)
	return true
}

// SeamCount returns the number of registered seams.
func (a *Aggregator) SeamCount() int {
	return len(a.seams)
}

// SeamMetaData returns the record of a registered seam.
func (a *Aggregator) SeamMetaData(seamID uuid.UUID, nioSwitchedOff bool) (SeamMetaData, bool) {
	entry, ok := a.seamsByID[seamID]
	if !ok {
		return SeamMetaData{}, false
	}
	return SeamMetaData{
		UUID:           entry.uuid,
		Number:         entry.number,
		SeamSeries:     entry.series.number,
		SeamSeriesUUID: entry.series.uuid,
		Length:         entry.length,
		Nio:            entry.nios.List(),
		NioSwitchedOff: nioSwitchedOff,
		LinkTo:         entry.linkTo,
	}, true
}

// ProductInfo carries the product level fields of a product record.
type ProductInfo struct {
	Product        *domain.Product
	Instance       uuid.UUID
	SerialNumber   uint32
	ExtendedInfo   string
	Date           time.Time
	NioSwitchedOff bool
}

// Build folds all registered seams into seam series records and the product
// record.
func (a *Aggregator) Build(info ProductInfo) (ProductMetaData, []SeamSeriesMetaData) {
	product := ProductMetaData{
		UUID:                info.Instance,
		SerialNumber:        info.SerialNumber,
		ExtendedProductInfo: info.ExtendedInfo,
		Date:                Date(info.Date),
		NioSwitchedOff:      info.NioSwitchedOff,
		ProcessedSeamSeries: []ProcessedSeamSeries{},
		ProcessedSeams:      []ProcessedSeam{},
	}
	if info.Product != nil {
		product.ProductUUID = info.Product.UUID
		product.ProductName = info.Product.Name
		product.ProductType = info.Product.Type
	}

	productTally := make(Tally)
	series := make([]SeamSeriesMetaData, 0, len(a.series))

	for _, s := range a.series {
		seriesTally := make(Tally)
		record := SeamSeriesMetaData{
			UUID:           s.uuid,
			Number:         s.number,
			NioSwitchedOff: info.NioSwitchedOff,
			ProcessedSeams: make([]ProcessedSeam, 0, len(s.seams)),
		}

		for _, seam := range s.seams {
			seriesTally.Merge(seam.nios)
			record.ProcessedSeams = append(record.ProcessedSeams, ProcessedSeam{
				UUID:   seam.uuid,
				Number: seam.number,
				Nio:    seam.nios.List(),
				LinkTo: seam.linkTo,
			})
		}
		record.Nio = seriesTally.List()
		productTally.Merge(seriesTally)

		series = append(series, record)
		product.ProcessedSeamSeries = append(product.ProcessedSeamSeries, ProcessedSeamSeries{
			UUID:           s.uuid,
			Number:         s.number,
			Nio:            record.Nio,
			NioSwitchedOff: info.NioSwitchedOff,
		})
	}

	for _, seam := range a.seams {
		seriesNumber := seam.series.number
		seriesID := seam.series.uuid
		product.ProcessedSeams = append(product.ProcessedSeams, ProcessedSeam{
			UUID:           seam.uuid,
			Number:         seam.number,
			Nio:            seam.nios.List(),
			LinkTo:         seam.linkTo,
			SeamSeries:     &seriesNumber,
			SeamSeriesUUID: &seriesID,
		})
	}
	product.Nio = productTally.List()

	return product, series
}

package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/weldmaster/resultstore/internal/domain"
)

// FileName is the name of the metadata file of every level.
const FileName = "metadata.json"

// DateLayout is ISO-8601 with milliseconds.
const DateLayout = "2006-01-02T15:04:05.000Z07:00"

// NioEntry counts the NIOs of one result type.
type NioEntry struct {
	Type  domain.ResultType `json:"type"`
	Count uint              `json:"count"`
}

// NioList is the NIO state of a seam, seam series or product. It is written
// as an array of entries sorted by type. Older files carry a plain boolean,
// which is accepted when reading.
type NioList struct {
	Entries []NioEntry
	flagged bool
}

// Any reports whether the entity is NIO.
func (l NioList) Any() bool {
	return l.flagged || len(l.Entries) > 0
}

// Count returns the count for type t.
func (l NioList) Count(t domain.ResultType) uint {
	for _, e := range l.Entries {
		if e.Type == t {
			return e.Count
		}
	}
	return 0
}

// MarshalJSON implements json.Marshaler.
func (l NioList) MarshalJSON() ([]byte, error) {
	if l.Entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Entries)
}

// UnmarshalJSON implements json.Unmarshaler.
func (l *NioList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = NioList{}
		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*l = NioList{flagged: data[0] == 't'}
		return nil
	case len(data) > 0 && data[0] == '[':
		var entries []NioEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		*l = NioList{Entries: entries}
		return nil
	default:
		return fmt.Errorf("nio must be a boolean or an array, got %s", data)
	}
}

// Tally accumulates NIO counts per result type.
type Tally map[domain.ResultType]uint

// Add increments the count of t.
func (t Tally) Add(rt domain.ResultType, n uint) {
	t[rt] += n
}

// Merge adds all counts of other.
func (t Tally) Merge(other Tally) {
	for rt, n := range other {
		t[rt] += n
	}
}

// List renders the tally sorted by type code.
func (t Tally) List() NioList {
	if len(t) == 0 {
		return NioList{}
	}
	entries := make([]NioEntry, 0, len(t))
	for rt, n := range t {
		if n == 0 {
			continue
		}
		entries = append(entries, NioEntry{Type: rt, Count: n})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Type < entries[j].Type })
	return NioList{Entries: entries}
}

// Date is a timestamp written in UTC with millisecond precision.
type Date time.Time

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(d).UTC().Format(DateLayout))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

// Time returns the date as time.Time.
func (d Date) Time() time.Time {
	return time.Time(d)
}

// SeamMetaData describes one finished seam.
type SeamMetaData struct {
	UUID           uuid.UUID  `json:"uuid"`
	Number         int        `json:"number"`
	SeamSeries     int        `json:"seamSeries"`
	SeamSeriesUUID uuid.UUID  `json:"seamSeriesUuid"`
	Length         int        `json:"length,omitempty"`
	Nio            NioList    `json:"nio"`
	NioSwitchedOff bool       `json:"nioSwitchedOff"`
	LinkTo         *uuid.UUID `json:"linkTo,omitempty"`
}

// ProcessedSeam is the summary of a seam inside series and product records.
// SeamSeries and SeamSeriesUUID are only set at product level.
type ProcessedSeam struct {
	UUID           uuid.UUID  `json:"uuid"`
	Number         int        `json:"number"`
	Nio            NioList    `json:"nio"`
	LinkTo         *uuid.UUID `json:"linkTo,omitempty"`
	SeamSeries     *int       `json:"seamSeries,omitempty"`
	SeamSeriesUUID *uuid.UUID `json:"seamSeriesUuid,omitempty"`
}

// SeamSeriesMetaData describes one seam series of a product instance.
type SeamSeriesMetaData struct {
	UUID           uuid.UUID       `json:"uuid"`
	Number         int             `json:"number"`
	Nio            NioList         `json:"nio"`
	NioSwitchedOff bool            `json:"nioSwitchedOff"`
	ProcessedSeams []ProcessedSeam `json:"processedSeams"`
}

// ProcessedSeamSeries is the summary of a seam series in the product record.
type ProcessedSeamSeries struct {
	UUID           uuid.UUID `json:"uuid"`
	Number         int       `json:"number"`
	Nio            NioList   `json:"nio"`
	NioSwitchedOff bool      `json:"nioSwitchedOff"`
}

// ProductMetaData describes one finished product instance.
type ProductMetaData struct {
	UUID                uuid.UUID             `json:"uuid"`
	SerialNumber        uint32                `json:"serialNumber"`
	ExtendedProductInfo string                `json:"extendedProductInfo"`
	Date                Date                  `json:"date"`
	Nio                 NioList               `json:"nio"`
	NioSwitchedOff      bool                  `json:"nioSwitchedOff"`
	ProcessedSeamSeries []ProcessedSeamSeries `json:"processedSeamSeries"`
	ProcessedSeams      []ProcessedSeam       `json:"processedSeams"`
	ProductUUID         uuid.UUID             `json:"productUuid"`
	ProductName         string                `json:"productName"`
	ProductType         int                   `json:"productType"`
}

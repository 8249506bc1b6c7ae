// Package domain holds the product model the results store reads from.
//
// Products, seam series and seams are owned by the caller. The store keeps
// non owning references (Ref) that clear themselves when the owner destroys
// an object.
package domain

import (
	"sync"

	"github.com/google/uuid"
)

// Product is a product definition made of seam series.
type Product struct {
	UUID uuid.UUID
	Name string
	Type int

	mu       sync.RWMutex
	series   []*SeamSeries
	lifetime Lifetime
}

// NewProduct creates a product definition.
func NewProduct(id uuid.UUID, name string, productType int) *Product {
	return &Product{UUID: id, Name: name, Type: productType}
}

// AddSeamSeries appends a seam series with the given number.
func (p *Product) AddSeamSeries(id uuid.UUID, number int) *SeamSeries {
	s := &SeamSeries{UUID: id, Number: number, product: p}
	p.mu.Lock()
	p.series = append(p.series, s)
	p.mu.Unlock()
	return s
}

// SeamSeries returns the seam series in definition order.
func (p *Product) SeamSeries() []*SeamSeries {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*SeamSeries, len(p.series))
	copy(out, p.series)
	return out
}

// FindSeamSeries looks up a seam series by number.
func (p *Product) FindSeamSeries(number int) *SeamSeries {
	for _, s := range p.SeamSeries() {
		if s.Number == number {
			return s
		}
	}
	return nil
}

// FindSeam looks up a seam by series and seam number.
func (p *Product) FindSeam(series, number int) *Seam {
	if s := p.FindSeamSeries(series); s != nil {
		return s.FindSeam(number)
	}
	return nil
}

// Watch registers fn to run when the product is destroyed.
func (p *Product) Watch(fn func()) (cancel func(), ok bool) {
	if p == nil {
		return nil, false
	}
	return p.lifetime.watch(fn)
}

// Destroy destroys the product together with its series and seams.
func (p *Product) Destroy() {
	for _, s := range p.SeamSeries() {
		s.destroy()
	}
	p.lifetime.Destroy()
}

// Destroyed reports whether the product was destroyed.
func (p *Product) Destroyed() bool {
	return p.lifetime.Destroyed()
}

// SeamSeries groups the seams of a product.
type SeamSeries struct {
	UUID   uuid.UUID
	Number int

	mu      sync.RWMutex
	product *Product
	seams   []*Seam
}

// Product returns the owning product.
func (s *SeamSeries) Product() *Product {
	return s.product
}

// AddSeam appends a seam with the given number.
func (s *SeamSeries) AddSeam(id uuid.UUID, number int) *Seam {
	seam := &Seam{UUID: id, Number: number, series: s}
	s.mu.Lock()
	s.seams = append(s.seams, seam)
	s.mu.Unlock()
	return seam
}

// Seams returns the seams in definition order.
func (s *SeamSeries) Seams() []*Seam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Seam, len(s.seams))
	copy(out, s.seams)
	return out
}

// FindSeam looks up a seam by number.
func (s *SeamSeries) FindSeam(number int) *Seam {
	for _, seam := range s.Seams() {
		if seam.Number == number {
			return seam
		}
	}
	return nil
}

func (s *SeamSeries) destroy() {
	for _, seam := range s.Seams() {
		seam.Destroy()
	}
}

// Seam is a single seam of a seam series.
type Seam struct {
	UUID   uuid.UUID
	Number int
	Length int

	mu       sync.RWMutex
	series   *SeamSeries
	linkTo   *Seam
	hardware ParameterSet
	lifetime Lifetime
}

// SeamSeries returns the owning seam series.
func (s *Seam) SeamSeries() *SeamSeries {
	return s.series
}

// Product returns the product the seam belongs to.
func (s *Seam) Product() *Product {
	if s.series == nil {
		return nil
	}
	return s.series.product
}

// SetLinkTo marks the seam as reusing the program of target.
func (s *Seam) SetLinkTo(target *Seam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkTo = target
}

// LinkTo returns the seam this seam is linked to, or nil.
func (s *Seam) LinkTo() *Seam {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.linkTo
}

// SetHardwareParameters replaces the hardware configuration.
func (s *Seam) SetHardwareParameters(ps ParameterSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hardware = append(ParameterSet(nil), ps...)
}

// HardwareParameters returns the hardware configuration.
func (s *Seam) HardwareParameters() ParameterSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hardware
}

// Watch registers fn to run when the seam is destroyed.
func (s *Seam) Watch(fn func()) (cancel func(), ok bool) {
	if s == nil {
		return nil, false
	}
	return s.lifetime.watch(fn)
}

// Destroy destroys the seam.
func (s *Seam) Destroy() {
	s.lifetime.Destroy()
}

// Destroyed reports whether the seam was destroyed.
func (s *Seam) Destroyed() bool {
	return s.lifetime.Destroyed()
}

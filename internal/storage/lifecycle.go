package storage

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/weldmaster/resultstore/internal/domain"
	"github.com/weldmaster/resultstore/internal/metadata"
	"github.com/weldmaster/resultstore/internal/metrics"
	"github.com/weldmaster/resultstore/pkg/errors"
)

// StartProductInspection begins a new product instance. A nil product
// leaves the service idle. The persistence setting and the scheduled disk
// usage decision are latched for the whole instance.
func (s *Service) StartProductInspection(p *domain.Product, instanceID uuid.UUID, extendedInfo string) {
	defer s.observe("startProductInspection", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Idle:
	case WaitingForLwmResultAtEndOfProduct:
		s.logger.Error("product started before the LWM result of the previous product arrived", map[string]interface{}{
			"instance": s.inst.id.String(),
		})
		s.finishSeamLocked()
		s.finishProductLocked()
	default:
		s.logger.Warn("product started while another instance is in flight, discarding it", map[string]interface{}{
			"state":    s.state.String(),
			"instance": s.inst.id.String(),
		})
	}

	s.applyScheduledLocked()
	s.cleanupLocked(temporary)

	if p == nil {
		s.logger.Debug("start of product inspection without product ignored")
		return
	}

	s.inst.product.Set(p)
	if !s.inst.product.Valid() {
		s.logger.Warn("start of product inspection with destroyed product ignored")
		return
	}
	s.inst.id = instanceID
	s.inst.extendedInfo = extendedInfo
	s.inst.date = s.now().UTC()
	s.inst.persistEnabled = s.enabled
	s.inst.shutdownAtStart = s.shutdown
	s.inst.store = s.store
	s.setStateLocked(ProductInspection)

	s.logger.Info("product inspection started", map[string]interface{}{
		"product":  p.UUID.String(),
		"instance": instanceID.String(),
		"persist":  s.inst.persist(),
		"enabled":  s.inst.persistEnabled,
		"shutdown": s.inst.shutdownAtStart,
	})
}

// StartSeamInspection begins a seam of the current product instance. The
// first seam fixes the serial number of the instance. A different instance
// id or serial number abandons the instance.
func (s *Service) StartSeamInspection(seam *domain.Seam, instanceID uuid.UUID, serial uint32) {
	defer s.observe("startSeamInspection", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SeamInspection:
		if s.seam.ref.Valid() {
			s.logger.Warn("seam started while the previous seam is open, finishing it")
			s.finishSeamLocked()
		}
	case WaitingForLwmResult:
		s.logger.Error("seam started before the LWM result of the previous seam arrived")
		s.finishSeamLocked()
	case WaitingForLwmResultAtEndOfProduct:
		s.logger.Error("seam started after the end of the product")
		s.finishSeamLocked()
		s.finishProductLocked()
	}

	product := s.inst.product.Get()
	if seam == nil || product == nil || s.inst.id == uuid.Nil {
		s.logger.Warn("start of seam inspection without seam or product, discarding instance", map[string]interface{}{
			"seam":    seam != nil,
			"product": product != nil,
		})
		s.cleanupLocked(temporary)
		return
	}

	if instanceID != s.inst.id {
		s.mismatchLocked("instance id", map[string]interface{}{
			"expected": s.inst.id.String(),
			"got":      instanceID.String(),
		})
		return
	}
	if s.inst.serialSet && serial != s.inst.serial {
		s.mismatchLocked("serial number", map[string]interface{}{
			"expected": s.inst.serial,
			"got":      serial,
		})
		return
	}
	if !s.inst.serialSet {
		s.inst.serial = serial
		s.inst.serialSet = true
		s.assignDirectoriesLocked(product)
	}

	s.resetSeamLocked()
	s.seam.ref.Set(seam)
	if !s.seam.ref.Valid() {
		s.logger.Warn("start of seam inspection with destroyed seam, discarding instance")
		s.cleanupLocked(temporary)
		return
	}
	s.setStateLocked(SeamInspection)

	s.seam.externalLwm = s.lwmCommunicationActive &&
		seam.HardwareParameters().Bool(domain.LwmInspectionActive, domain.LwmInspectionTypeID)
	s.inst.aggregator.BeginSeam(seam)

	seriesNumber := 0
	if series := seam.SeamSeries(); series != nil {
		seriesNumber = series.Number
	}
	s.seam.dir = metadata.SeamDir(s.inst.stagingDir, seriesNumber, seam.Number)
	s.seam.writeFiles = s.inst.persist() && (seam.LinkTo() == nil || s.createLinkedSeamDirs)

	if s.seam.writeFiles {
		if err := os.MkdirAll(s.seam.dir, 0755); err != nil {
			s.writeFailedLocked("create seam directory", errors.Wrap(err, errors.ErrCodeDirectoryCreate,
				"failed to create seam directory").WithComponent("storage").WithContext("path", s.seam.dir))
		}
	}

	s.logger.Debug("seam inspection started", map[string]interface{}{
		"seam":         seam.Number,
		"series":       seriesNumber,
		"external_lwm": s.seam.externalLwm,
	})
}

// EndSeamInspection ends the current seam. A seam waiting for an LWM verdict
// is kept open until the verdict arrives.
func (s *Service) EndSeamInspection() {
	defer s.observe("endSeamInspection", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seam.ref.Valid() {
		s.endMissingSeamLocked()
		return
	}

	if s.seam.externalLwm && !s.seam.lwmReceived && s.state == SeamInspection {
		s.flushResultsLocked()
		s.setStateLocked(WaitingForLwmResult)
		s.logger.Debug("seam inspection ended before the LWM result arrived")
		return
	}

	s.finishSeamLocked()
}

// endMissingSeamLocked handles the end of a seam that was destroyed, or a
// repeated end. Seams finished so far are kept as long as the product lives.
func (s *Service) endMissingSeamLocked() {
	if !s.inst.product.Valid() || s.inst.id == uuid.Nil {
		if s.state != Idle {
			s.logger.Debug("end of seam inspection without current product, discarding instance")
		}
		s.cleanupLocked(temporary)
		return
	}

	switch s.state {
	case SeamInspection, WaitingForLwmResult:
		s.logger.Warn("end of seam inspection for a destroyed seam")
		s.finishSeamLocked()
	case WaitingForLwmResultAtEndOfProduct:
		s.logger.Warn("end of seam inspection for a destroyed seam, finishing the product")
		s.finishSeamLocked()
		s.finishProductLocked()
	default:
		s.logger.Debug("end of seam inspection without current seam ignored", map[string]interface{}{
			"state": s.state.String(),
		})
	}
}

// EndProductInspection ends the current product instance and persists it
// when it was admitted at start.
func (s *Service) EndProductInspection(p *domain.Product) {
	defer s.observe("endProductInspection", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	product := s.inst.product.Get()
	if product == nil || s.inst.id == uuid.Nil {
		if s.state != Idle {
			s.logger.Debug("end of product inspection without current product, discarding instance")
		}
		s.cleanupLocked(temporary)
		return
	}
	if p != product {
		s.logger.Warn("end of product inspection for a different product", map[string]interface{}{
			"current": product.UUID.String(),
		})
	}

	switch s.state {
	case WaitingForLwmResult:
		s.setStateLocked(WaitingForLwmResultAtEndOfProduct)
		s.logger.Debug("product inspection ended before the LWM result arrived")
		return
	case WaitingForLwmResultAtEndOfProduct:
		s.logger.Debug("product inspection already ended, waiting for LWM result")
		return
	case SeamInspection:
		s.logger.Warn("product ended with an open seam, finishing the seam")
		s.finishSeamLocked()
	}

	s.finishProductLocked()
}

// AddResult buffers a result for the current seam. Results without a
// current seam are dropped. The LWM verdict of a waiting seam finishes the
// seam, and the product when it ended already.
func (s *Service) AddResult(r domain.Result) {
	defer s.observe("addResult", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addResultLocked(r)
}

// AddResults buffers several results in order.
func (s *Service) AddResults(rs []domain.Result) {
	defer s.observe("addResults", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		s.addResultLocked(r)
	}
}

// AddNio counts the NIO of r on the current seam, its series and the
// product, then handles r like AddResult.
func (s *Service) AddNio(r domain.Result) {
	defer s.observe("addNio", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()

	seam := s.seam.ref.Get()
	if seam == nil {
		return
	}
	if r.IsNio() {
		s.inst.aggregator.AddNio(seam.UUID, r.NioType)
	}
	s.addResultLocked(r)
}

func (s *Service) addResultLocked(r domain.Result) {
	if !s.seam.ref.Valid() {
		return
	}

	if s.seam.buffers == nil {
		s.seam.buffers = make(map[domain.ResultType][]domain.Result)
	}
	if _, ok := s.seam.buffers[r.Type]; !ok {
		s.seam.order = append(s.seam.order, r.Type)
	}
	s.seam.buffers[r.Type] = append(s.seam.buffers[r.Type], r)
	s.seam.received++

	if !s.seam.externalLwm || s.seam.lwmReceived || r.Type != domain.LWMStandardResult {
		return
	}
	s.seam.lwmReceived = true
	s.logger.Debug("LWM result received")

	switch s.state {
	case WaitingForLwmResult:
		s.finishSeamLocked()
	case WaitingForLwmResultAtEndOfProduct:
		s.finishSeamLocked()
		s.finishProductLocked()
	}
}

// finishSeamLocked writes the results and the metadata of the current seam
// and returns to ProductInspection.
func (s *Service) finishSeamLocked() {
	seam := s.seam.ref.Get()
	if seam == nil {
		if !s.inst.product.Valid() {
			s.cleanupLocked(temporary)
			return
		}
		// The seam was destroyed: keep what it buffered, its metadata is gone.
		s.flushResultsLocked()
		s.resetSeamLocked()
		s.setStateLocked(ProductInspection)
		return
	}
	s.setStateLocked(ProductInspection)

	if s.seam.received == 0 {
		s.inst.aggregator.AddNio(seam.UUID, domain.NoResultsError)
	}
	s.flushResultsLocked()

	if s.seam.writeFiles {
		md, _ := s.inst.aggregator.SeamMetaData(seam.UUID, s.nioSwitchedOff)
		if err := s.metaWriter.WriteSeam(s.seam.dir, md); err != nil {
			s.writeFailedLocked("write seam metadata", err)
		}
	}
	s.metrics.RecordSeam(s.seam.externalLwm)

	s.resetSeamLocked()
}

func (s *Service) flushResultsLocked() {
	for _, t := range s.seam.order {
		rs := s.seam.buffers[t]
		if len(rs) == 0 || !s.seam.writeFiles {
			continue
		}
		if err := s.resultWriter.Append(s.seam.dir, t, rs); err != nil {
			s.writeFailedLocked("write results", err)
			continue
		}
		s.metrics.RecordResults(t.String(), len(rs))
	}
	s.seam.buffers = nil
	s.seam.order = nil
}

// finishProductLocked persists the instance when it was admitted and
// returns to Idle.
func (s *Service) finishProductLocked() {
	product := s.inst.product.Get()
	if product == nil {
		s.cleanupLocked(temporary)
		return
	}

	if !s.inst.persist() {
		outcome := metrics.OutcomeSkippedDisabled
		if s.inst.persistEnabled && s.inst.shutdownAtStart {
			outcome = metrics.OutcomeSkippedShutdown
		}
		s.metrics.RecordInstance(outcome)
		s.logger.Info("product inspection ended, instance not persisted", map[string]interface{}{
			"instance": s.inst.id.String(),
			"outcome":  outcome,
		})
		s.cleanupLocked(temporary)
		return
	}

	if !s.inst.serialSet {
		s.assignDirectoriesLocked(product)
	}

	if err := s.writeInstanceMetadataLocked(product); err != nil {
		s.writeFailedLocked("write instance metadata", err)
		s.cleanupLocked(temporary)
		return
	}
	if err := s.moveIntoPlaceLocked(); err != nil {
		s.writeFailedLocked("finalize instance", err)
		s.cleanupLocked(temporary)
		return
	}

	store := s.inst.store
	if err := store.index.Append(s.inst.finalDir); err != nil {
		s.writeFailedLocked("append cache index", err)
	}
	s.metrics.SetCacheEntries(store.index.Len())
	s.metrics.RecordInstance(metrics.OutcomePersisted)
	s.logger.Info("product instance persisted", map[string]interface{}{
		"path":  s.inst.finalDir,
		"seams": s.inst.aggregator.SeamCount(),
	})

	if store == s.store {
		s.triggerEvictionLocked()
	}
	_, _ = s.checkDiskUsageLocked()

	s.cleanupLocked(final)
}

func (s *Service) writeInstanceMetadataLocked(product *domain.Product) error {
	productMD, seriesMD := s.inst.aggregator.Build(metadata.ProductInfo{
		Product:        product,
		Instance:       s.inst.id,
		SerialNumber:   s.inst.serial,
		ExtendedInfo:   s.inst.extendedInfo,
		Date:           s.inst.date,
		NioSwitchedOff: s.nioSwitchedOff,
	})

	for _, series := range seriesMD {
		dir := filepath.Join(s.inst.stagingDir, metadata.SeamSeriesDirName(series.Number))
		if err := s.metaWriter.WriteSeamSeries(dir, series); err != nil {
			return err
		}
	}
	return s.metaWriter.WriteProduct(s.inst.stagingDir, productMD)
}

func (s *Service) moveIntoPlaceLocked() error {
	dst := s.inst.finalDir
	if _, err := os.Stat(dst); err == nil {
		return errors.NewError(errors.ErrCodeInstanceFinal, "instance directory already exists").
			WithComponent("storage").WithContext("path", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeDirectoryCreate, "failed to create product directory").
			WithComponent("storage").WithContext("path", filepath.Dir(dst))
	}
	if err := os.Rename(s.inst.stagingDir, dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeInstanceFinal, "failed to move instance into place").
			WithComponent("storage").WithContext("from", s.inst.stagingDir).WithContext("to", dst)
	}
	return nil
}

func (s *Service) assignDirectoriesLocked(product *domain.Product) {
	if s.inst.store == nil {
		return
	}
	name := metadata.InstanceDirName(s.inst.id, s.inst.serial)
	productDir := product.UUID.String()
	s.inst.stagingDir = filepath.Join(s.inst.store.staging, productDir, name)
	s.inst.finalDir = filepath.Join(s.inst.store.root, productDir, name)
}

// mismatchLocked abandons the instance after a seam arrived for another
// instance or serial number. The state stays SeamInspection so that the
// ends that follow are accepted as no-ops.
func (s *Service) mismatchLocked(what string, fields map[string]interface{}) {
	fields["mismatch"] = what
	s.logger.Warn("seam does not belong to the current product instance, discarding instance", fields)
	s.cleanupLocked(temporary)
	s.setStateLocked(SeamInspection)
}

func (s *Service) resetSeamLocked() {
	s.seam.ref.Clear()
	s.seam.dir = ""
	s.seam.writeFiles = false
	s.seam.buffers = nil
	s.seam.order = nil
	s.seam.received = 0
	s.seam.externalLwm = false
	s.seam.lwmReceived = false
}

func (s *Service) cleanupLocked(mode pathMode) {
	if mode == temporary && s.inst.stagingDir != "" {
		if err := os.RemoveAll(s.inst.stagingDir); err != nil {
			s.logger.Warn("failed to remove staged instance", logFields(err, map[string]interface{}{
				"path": s.inst.stagingDir,
			}))
		}
	}
	if s.inst.stagingDir != "" {
		removeEmptyParent(s.inst.stagingDir)
	}
	if mode == temporary && s.inst.id != uuid.Nil && s.inst.persist() {
		s.metrics.RecordInstance(metrics.OutcomeDiscarded)
	}

	s.resetSeamLocked()
	s.inst.product.Clear()
	s.inst.id = uuid.Nil
	s.inst.serial = 0
	s.inst.serialSet = false
	s.inst.extendedInfo = ""
	s.inst.date = time.Time{}
	s.inst.persistEnabled = false
	s.inst.shutdownAtStart = false
	s.inst.store = nil
	s.inst.stagingDir = ""
	s.inst.finalDir = ""
	s.inst.aggregator.Reset()
	s.setStateLocked(Idle)
}

func (s *Service) writeFailedLocked(what string, err error) {
	s.metrics.RecordWriteError(err)
	s.logger.Error("failed to "+what, logFields(err, map[string]interface{}{
		"instance": s.inst.id.String(),
	}))
}

// removeEmptyParent drops the per product staging directory once its last
// instance is gone.
func removeEmptyParent(dir string) {
	_ = os.Remove(filepath.Dir(dir))
}

func logFields(err error, extra map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(extra)+2)
	var se *errors.StoreError
	if stderrors.As(err, &se) {
		for k, v := range se.Fields() {
			fields[k] = v
		}
	}
	fields["error"] = err.Error()
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Package metadata builds and stores the metadata.json records of product
// instances, seam series and seams.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// InstanceDirName returns the directory name of a product instance.
func InstanceDirName(instance uuid.UUID, serial uint32) string {
	return fmt.Sprintf("%s-SN-%d", instance, serial)
}

// SeamSeriesDirName returns the directory name of a seam series.
func SeamSeriesDirName(number int) string {
	return fmt.Sprintf("seam_series%04d", number)
}

// SeamDirName returns the directory name of a seam.
func SeamDirName(number int) string {
	return fmt.Sprintf("seam%04d", number)
}

// SeamDir returns the seam directory below an instance directory.
func SeamDir(instanceDir string, series, seam int) string {
	return filepath.Join(instanceDir, SeamSeriesDirName(series), SeamDirName(seam))
}

// Writer stores metadata records atomically.
type Writer struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
	logger   *utils.StructuredLogger
}

// NewWriter creates a metadata writer.
func NewWriter(logger *utils.StructuredLogger) *Writer {
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Writer{
		dirPerm:  0755,
		filePerm: 0644,
		logger:   logger.WithComponent("metadata"),
	}
}

// WriteSeam stores the record of a seam in its seam directory.
func (w *Writer) WriteSeam(seamDir string, md SeamMetaData) error {
	return w.write(seamDir, md)
}

// WriteSeamSeries stores the record of a seam series in its directory.
func (w *Writer) WriteSeamSeries(seriesDir string, md SeamSeriesMetaData) error {
	return w.write(seriesDir, md)
}

// WriteProduct stores the product record in the instance directory.
func (w *Writer) WriteProduct(instanceDir string, md ProductMetaData) error {
	return w.write(instanceDir, md)
}

func (w *Writer) write(dir string, v interface{}) error {
	path := filepath.Join(dir, FileName)

	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMetadataWrite, "failed to encode metadata").
			WithComponent("metadata").WithContext("path", path)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(dir, w.dirPerm); err != nil {
		return errors.Wrap(err, errors.ErrCodeDirectoryCreate, "failed to create metadata directory").
			WithComponent("metadata").WithContext("path", dir)
	}
	if err := renameio.WriteFile(path, data, w.filePerm); err != nil {
		return errors.Wrap(err, errors.ErrCodeMetadataWrite, "failed to write metadata").
			WithComponent("metadata").WithContext("path", path)
	}

	w.logger.Debug("metadata written", map[string]interface{}{"path": path})
	return nil
}

// ParseSeam reads the seam record in seamDir.
func ParseSeam(seamDir string) (*SeamMetaData, error) {
	var md SeamMetaData
	if err := read(seamDir, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// ParseSeamSeries reads the seam series record in seriesDir.
func ParseSeamSeries(seriesDir string) (*SeamSeriesMetaData, error) {
	var md SeamSeriesMetaData
	if err := read(seriesDir, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// ParseProduct reads the product record in instanceDir.
func ParseProduct(instanceDir string) (*ProductMetaData, error) {
	var md ProductMetaData
	if err := read(instanceDir, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

func read(dir string, v interface{}) error {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMetadataRead, "failed to read metadata").
			WithComponent("metadata").WithContext("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeMetadataRead, "failed to decode metadata").
			WithComponent("metadata").WithContext("path", path)
	}
	return nil
}

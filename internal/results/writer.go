// Package results appends inspection results to per-type files inside a seam
// directory.
//
// Every result type gets its own file named "<typeCode>.result". Records are
// stored as JSON lines in receipt order. With compression enabled every
// Append writes one gzip member, so a file is a valid multi-member gzip
// stream that can be read back in one pass.
package results

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/weldmaster/resultstore/internal/domain"
	"github.com/weldmaster/resultstore/pkg/errors"
	"github.com/weldmaster/resultstore/pkg/utils"
)

// FileSuffix is the extension of result files.
const FileSuffix = ".result"

// Config controls the on-disk form of result files.
type Config struct {
	Compress bool
	DirPerm  os.FileMode
	FilePerm os.FileMode
}

// DefaultConfig returns uncompressed files with conventional permissions.
func DefaultConfig() Config {
	return Config{
		DirPerm:  0755,
		FilePerm: 0644,
	}
}

// Writer appends results to seam directories.
type Writer struct {
	config Config
	logger *utils.StructuredLogger
}

// NewWriter creates a result writer.
func NewWriter(config Config, logger *utils.StructuredLogger) *Writer {
	if config.DirPerm == 0 {
		config.DirPerm = 0755
	}
	if config.FilePerm == 0 {
		config.FilePerm = 0644
	}
	if logger == nil {
		logger = utils.DefaultLogger()
	}
	return &Writer{config: config, logger: logger.WithComponent("results")}
}

// FileName returns the file name used for results of type t.
func FileName(t domain.ResultType) string {
	return strconv.Itoa(t.Code()) + FileSuffix
}

// Path returns the result file of type t inside seamDir.
func Path(seamDir string, t domain.ResultType) string {
	return filepath.Join(seamDir, FileName(t))
}

// Append adds rs to the result file of type t inside seamDir. The directory
// and the file are created when missing.
func (w *Writer) Append(seamDir string, t domain.ResultType, rs []domain.Result) error {
	if len(rs) == 0 {
		return nil
	}
	if seamDir == "" {
		return errors.NewError(errors.ErrCodePathInvalid, "empty seam directory").
			WithComponent("results").WithOperation("append")
	}

	if err := os.MkdirAll(seamDir, w.config.DirPerm); err != nil {
		return errors.Wrap(err, errors.ErrCodeDirectoryCreate, "failed to create seam directory").
			WithComponent("results").WithContext("path", seamDir)
	}

	path := Path(seamDir, t)
	data, err := w.encode(rs)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to encode results").
			WithComponent("results").WithContext("path", path)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, w.config.FilePerm)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to open result file").
			WithComponent("results").WithContext("path", path)
	}

	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to write results").
			WithComponent("results").WithContext("path", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageWrite, "failed to close result file").
			WithComponent("results").WithContext("path", path)
	}

	w.logger.Debug("results appended", map[string]interface{}{
		"path":  path,
		"type":  t.String(),
		"count": len(rs),
	})
	return nil
}

func (w *Writer) encode(rs []domain.Result) ([]byte, error) {
	var buf bytes.Buffer
	var out io.Writer = &buf

	var gz *gzip.Writer
	if w.config.Compress {
		gz = gzip.NewWriter(&buf)
		out = gz
	}

	enc := json.NewEncoder(out)
	for i := range rs {
		if err := enc.Encode(&rs[i]); err != nil {
			return nil, err
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Read returns all results stored in a result file, in the order they were
// appended. Plain and compressed files are both accepted.
func Read(path string) ([]domain.Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to open result file").
			WithComponent("results").WithContext("path", path)
	}
	defer func() { _ = file.Close() }()

	br := bufio.NewReader(file)
	var reader io.Reader = br

	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to open compressed result file").
				WithComponent("results").WithContext("path", path)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	var out []domain.Result
	dec := json.NewDecoder(reader)
	for {
		var r domain.Result
		if err := dec.Decode(&r); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errors.Wrap(err, errors.ErrCodeStorageRead, fmt.Sprintf("corrupt record %d", len(out)+1)).
				WithComponent("results").WithContext("path", path)
		}
		out = append(out, r)
	}
	return out, nil
}

// List returns the result types that have a file in seamDir.
func List(seamDir string) ([]domain.ResultType, error) {
	entries, err := os.ReadDir(seamDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to list seam directory").
			WithComponent("results").WithContext("path", seamDir)
	}

	var types []domain.ResultType
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != FileSuffix {
			continue
		}
		code, err := strconv.Atoi(name[:len(name)-len(FileSuffix)])
		if err != nil {
			continue
		}
		types = append(types, domain.ResultType(code))
	}
	return types, nil
}

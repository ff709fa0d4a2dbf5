// Package store implements the durable, human-readable per-VPC metadata
// layer described in spec §4.1: one JSON document per VPC, written
// atomically, under a well-known directory.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vpcctl/vpcctl/internal/model"
	"github.com/vpcctl/vpcctl/internal/vpcerr"
)

// LogFileName is the append-only driver/outcome log (§6.2).
const LogFileName = "vpcctl.log"

// LockFileName is the advisory lock path basename (§6.2).
const LockFileName = ".lock"

// Store is a directory of per-VPC JSON documents.
type Store struct {
	dir string
}

// New returns a Store rooted at dir. The directory is not created here;
// Save creates it if absent.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the metadata directory this Store operates on.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(vpc string) string {
	return filepath.Join(s.dir, vpc+".json")
}

// Load reads the record for vpc. Returns a *vpcerr.Error of kind
// NotFound if no such record exists.
func (s *Store) Load(vpc string) (*model.VPCRecord, error) {
	data, err := os.ReadFile(s.path(vpc))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vpcerr.NotFoundf("vpc %q not found", vpc)
		}
		return nil, vpcerr.IOf(err, "failed to read vpc %q", vpc)
	}
	var rec model.VPCRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, vpcerr.IOf(err, "failed to parse vpc %q", vpc)
	}
	return &rec, nil
}

// Save writes rec as the new document for its VPC, atomically.
//
// Implementation follows the reference tree's AtomicWriteFile pattern
// (moby-swarmkit/ioutils/ioutils.go): write to a temp file in the same
// directory, fsync, then rename over the destination so a reader never
// observes a torn write.
func (s *Store) Save(rec *model.VPCRecord) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return vpcerr.IOf(err, "failed to create state directory %s", s.dir)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return vpcerr.IOf(err, "failed to marshal vpc %q", rec.Name)
	}
	dst := s.path(rec.Name)
	if err := atomicWriteFile(dst, data, 0644); err != nil {
		return vpcerr.IOf(err, "failed to persist vpc %q", rec.Name)
	}
	return nil
}

// Delete removes the record for vpc. Tolerates absence (§4.1).
func (s *Store) Delete(vpc string) error {
	if err := os.Remove(s.path(vpc)); err != nil && !os.IsNotExist(err) {
		return vpcerr.IOf(err, "failed to delete vpc %q", vpc)
	}
	return nil
}

// List returns every persisted VPC record, sorted by name.
func (s *Store) List() ([]*model.VPCRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, vpcerr.IOf(err, "failed to list state directory %s", s.dir)
	}
	var out []*model.VPCRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		vpcName := strings.TrimSuffix(name, ".json")
		rec, err := s.Load(vpcName)
		if err != nil {
			if vpcerr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ForEachPeered returns every VPC record that has a peering referencing vpc.
func (s *Store) ForEachPeered(vpc string) ([]*model.VPCRecord, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []*model.VPCRecord
	for _, rec := range all {
		if rec.Name == vpc {
			continue
		}
		if _, ok := rec.Peering(vpc); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func atomicWriteFile(filename string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(filename), ".tmp-"+filepath.Base(filename))
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer func() {
		if _, statErr := os.Stat(tmpName); statErr == nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err := os.Chmod(tmpName, perm); err != nil {
		_ = f.Close()
		return err
	}
	n, err := f.Write(data)
	if err == nil && n < len(data) {
		_ = f.Close()
		return fmt.Errorf("short write to %s", tmpName)
	}
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, filename)
}

// OpenLog opens (creating if absent) the append-only command log at
// <dir>/vpcctl.log and returns a logrus.Logger writing to it with a
// plain timestamped text formatter, mirroring how the reference
// httpsrv/sdnagent binaries redirect their logrus output to a
// configured log file.
func OpenLog(dir string) (*log.Logger, *os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, vpcerr.IOf(err, "failed to create state directory %s", dir)
	}
	f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, vpcerr.IOf(err, "failed to open log file")
	}
	logger := log.New()
	logger.SetOutput(f)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return logger, f, nil
}

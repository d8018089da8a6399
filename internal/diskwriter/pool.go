// Package diskwriter implements the bounded write pipeline that persists
// cached assets to disk without blocking callers and without producing torn
// reads.
//
// It is grounded on two patterns from the teacher: the temp-file-then-rename
// mechanics of filesystem.WriteFileAtomic (pkg/filesystem/atomic.go) and the
// relocate-on-close staging sink of
// pkg/synchronization/endpoint/local/stager.go, generalized here into a
// worker-pool-backed queue rather than a single synchronous sink.
package diskwriter

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/jamenai/opensim-assetcache/internal/codec"
	"github.com/jamenai/opensim-assetcache/pkg/logging"
	"github.com/jamenai/opensim-assetcache/pkg/must"
	"github.com/jamenai/opensim-assetcache/pkg/random"
)

// temporaryNamePrefix marks temporary files created during an atomic write
// so that they're unambiguous if ever observed mid-write by an external
// scan.
const temporaryNamePrefix = ".assetcache-write-"

// Job describes a single asset write: persist record to path, optionally
// replacing an existing file and retaining a backup of its previous
// contents.
type Job struct {
	Path    string
	Record  *codec.Record
	Replace bool
}

// Pool is a bounded queue of write Jobs drained by a small number of worker
// goroutines. Submission never blocks: it drops the job outright if the
// target path already has a write in progress or if the queue is full.
type Pool struct {
	logger    *logging.Logger
	jobs      chan Job
	inflight  sync.Map // path (string) -> struct{}
	wg        sync.WaitGroup
	keepBak   bool
}

// New creates a pool with the given number of worker goroutines (clamped by
// the caller to [1,4] per the specification) and a bounded queue of
// capacity 1000. keepBackup controls whether a ".bak" sibling is retained
// after an atomic replace.
func New(workers int, keepBackup bool, logger *logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		logger:  logger,
		jobs:    make(chan Job, 1000),
		keepBak: keepBackup,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

// Submit attempts to enqueue a write job for job.Path. It returns true if
// the job was accepted. If a write for the same path is already reserved
// (either queued or in progress), Submit drops the submission silently and
// returns false — the specification treats this as acceptable because the
// existing job will persist an equivalent or newer version of the asset.
func (p *Pool) Submit(job Job) bool {
	if _, alreadyReserved := p.inflight.LoadOrStore(job.Path, struct{}{}); alreadyReserved {
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		// The queue is full; release the reservation so a future submission
		// for this path isn't permanently blocked.
		p.inflight.Delete(job.Path)
		p.logger.Warnf("write queue full, dropping job for %s", job.Path)
		return false
	}
}

// Reserved reports whether path currently has a write reservation held,
// either queued or actively being written. Readers use this to detect
// contention and briefly stall rather than fetch from upstream.
func (p *Pool) Reserved(path string) bool {
	_, reserved := p.inflight.Load(path)
	return reserved
}

// Close stops accepting new jobs and waits for all queued and in-flight
// jobs to complete.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}

// run is the main loop for a single writer worker.
func (p *Pool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(job)
		p.inflight.Delete(job.Path)
	}
}

// process performs the full write-temp-then-commit sequence for a single
// job.
func (p *Pool) process(job Job) {
	dir := filepath.Dir(job.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		p.logger.Warnf("unable to create shard directory %s: %v", dir, err)
		return
	}

	if !job.Replace {
		if _, err := os.Stat(job.Path); err == nil {
			// Fast path: target already exists and we weren't asked to
			// replace it.
			return
		}
	}

	temporaryPath := filepath.Join(dir, temporaryNamePrefix+randomSuffix())
	temporary, err := os.OpenFile(temporaryPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		p.logger.Warnf("unable to create temporary file in %s: %v", dir, err)
		return
	}

	if err := codec.Encode(temporary, job.Record); err != nil {
		must.Close(temporary, p.logger)
		must.OSRemove(temporary.Name(), p.logger)
		p.logger.Warnf("unable to encode asset for %s: %v", job.Path, err)
		return
	}

	if err := temporary.Sync(); err != nil {
		must.Close(temporary, p.logger)
		must.OSRemove(temporary.Name(), p.logger)
		p.logger.Warnf("unable to flush %s: %v", job.Path, err)
		return
	}
	if err := temporary.Close(); err != nil {
		must.OSRemove(temporary.Name(), p.logger)
		p.logger.Warnf("unable to close temporary file for %s: %v", job.Path, err)
		return
	}

	if err := p.commit(temporary.Name(), job.Path, job.Replace); err != nil {
		must.OSRemove(temporary.Name(), p.logger)
		p.logger.Warnf("unable to commit write for %s: %v", job.Path, err)
	}
}

// commit relocates a temporary file into place, preferring an atomic
// replace-with-backup when the target exists and replacement is requested,
// falling back to a plain rename otherwise.
func (p *Pool) commit(temporaryPath, targetPath string, replace bool) error {
	if replace {
		if _, err := os.Stat(targetPath); err == nil {
			backupPath := targetPath + ".bak"
			if p.keepBak {
				// Best-effort: move the existing file to a backup location
				// first, so that a crash between these two renames leaves
				// both the new content (if the second rename completed) or
				// the old content (as .bak) recoverable.
				if err := os.Rename(targetPath, backupPath); err != nil {
					return errors.Wrap(err, "unable to create backup")
				}
			}
			if err := os.Rename(temporaryPath, targetPath); err != nil {
				return errors.Wrap(err, "unable to rename into place")
			}
			return nil
		}
	}

	if err := os.Rename(temporaryPath, targetPath); err != nil {
		return errors.Wrap(err, "unable to rename into place")
	}
	return nil
}

// randomSuffix generates a short random string for temporary file names,
// falling back to a fixed marker if entropy is briefly unavailable. A
// resulting name collision makes the exclusive create in process fail, and
// that job is dropped with a warning; it is not retried.
func randomSuffix() string {
	bytes, err := random.New(random.CollisionResistantLength)
	if err != nil {
		return "fallback"
	}
	const hextable = "0123456789abcdef"
	out := make([]byte, len(bytes)*2)
	for i, b := range bytes {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out) + "-"
}

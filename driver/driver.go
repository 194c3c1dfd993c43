// Package driver runs the verifier over whole program files. Classes are
// verified concurrently by a bounded pool of workers, each with its own
// method verifiers; results land in a shared verifier.Results.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/dexverify/classlink"
	"github.com/chazu/dexverify/config"
	"github.com/chazu/dexverify/dex"
	"github.com/chazu/dexverify/verifier"
)

var log = commonlog.GetLogger("dexverify.driver")

// Session verifies a set of program files against one linker.
type Session struct {
	ID      uuid.UUID
	Results *verifier.Results

	linker  *classlink.Linker
	opts    verifier.Options
	workers int
}

// NewSession links the configured class path followed by files. Class-path
// files are linked but never verified.
func NewSession(cfg *config.Config, files ...*dex.File) (*Session, error) {
	var all []*dex.File
	for _, path := range cfg.ClassPathFiles() {
		f, err := dex.LoadYAML(path)
		if err != nil {
			return nil, fmt.Errorf("class path: %w", err)
		}
		all = append(all, f)
	}
	all = append(all, files...)

	linker, err := classlink.NewWithCacheSize(cfg.Linker.CacheSize, all...)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:      uuid.New(),
		Results: verifier.NewResults(),
		linker:  linker,
		opts:    cfg.Options(),
		workers: cfg.Driver.Workers,
	}
	if s.workers < 1 {
		s.workers = 1
	}
	log.Infof("session %s: %d files linked, %d workers", s.ID, len(all), s.workers)
	return s, nil
}

// Linker returns the session's linker.
func (s *Session) Linker() *classlink.Linker { return s.linker }

// Close tears down the session's results.
func (s *Session) Close() {
	s.Results.Close()
	log.Debugf("session %s closed", s.ID)
}

// VerifyFile verifies every class defined by f and returns the class
// reports ordered by descriptor. Classes shadowed by an earlier definition
// are skipped.
func (s *Session) VerifyFile(ctx context.Context, f *dex.File) ([]*verifier.ClassReport, error) {
	reports := make([]*verifier.ClassReport, len(f.Classes))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, def := range f.Classes {
		i, def := i, def
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = s.verifyClass(f, def)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("verifying %s: %w", f.Location, err)
	}

	out := reports[:0]
	for _, rep := range reports {
		if rep != nil {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.Descriptor < out[j].Ref.Descriptor })
	return out, nil
}

// VerifyFiles verifies each file in order.
func (s *Session) VerifyFiles(ctx context.Context, files ...*dex.File) ([]*verifier.ClassReport, error) {
	var all []*verifier.ClassReport
	for _, f := range files {
		reports, err := s.VerifyFile(ctx, f)
		if err != nil {
			return nil, err
		}
		all = append(all, reports...)
	}
	return all, nil
}

func (s *Session) verifyClass(f *dex.File, def *dex.ClassDef) *verifier.ClassReport {
	c, err := s.linker.ResolveClass(def.Descriptor)
	if err != nil {
		return s.linkFailure(f, def, err)
	}
	if c.File != f {
		log.Debugf("%s: %s shadowed by %s", f.Location, def.Descriptor, c.File.Location)
		return nil
	}
	return verifier.VerifyClass(s.linker, c, s.opts, s.Results)
}

// linkFailure reports a class that could not be linked. A missing class in
// its hierarchy is a soft failure unless soft failures are disallowed; any
// other link error rejects the class.
func (s *Session) linkFailure(f *dex.File, def *dex.ClassDef, err error) *verifier.ClassReport {
	rep := &verifier.ClassReport{
		Ref: verifier.ClassRef{Location: f.Location, Descriptor: def.Descriptor},
	}
	if errors.Is(err, classlink.ErrUnresolved) && !(s.opts.AheadOfTime && !s.opts.AllowSoftFailures) {
		rep.Outcome = verifier.SoftFailure
		rep.Failures = []verifier.Failure{{Kind: verifier.VerifyErrorNoClass, Message: err.Error()}}
		log.Warningf("cannot link %s: %s", def.Descriptor, err)
		return rep
	}
	rep.Outcome = verifier.HardFailure
	rep.Failures = []verifier.Failure{{Kind: verifier.VerifyErrorBadClassHard, Message: err.Error()}}
	s.Results.AddRejectedClass(rep.Ref)
	log.Errorf("rejected class %s: %s", def.Descriptor, err)
	return rep
}

// Summary counts class reports by outcome.
type Summary struct {
	Verified int `yaml:"verified"`
	Soft     int `yaml:"soft-failures"`
	Hard     int `yaml:"hard-failures"`
}

// Summarize tallies reports.
func Summarize(reports []*verifier.ClassReport) Summary {
	var sum Summary
	for _, rep := range reports {
		switch rep.Outcome {
		case verifier.HardFailure:
			sum.Hard++
		case verifier.SoftFailure:
			sum.Soft++
		default:
			sum.Verified++
		}
	}
	return sum
}

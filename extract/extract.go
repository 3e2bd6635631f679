// Package extract trims an event archive down to the tables a downstream
// analysis needs. The configuration subtree and the root attributes are
// copied as they are; each listed table is copied under its original path
// with its groups recreated on the way.
package extract

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/h5trim"
)

// PartSuffix is appended to the output name while an atomic run writes.
const PartSuffix = ".part"

// Extractor runs one extraction plan.
type Extractor struct {
	Plan Plan

	// Logger receives one Info entry per step. Defaults to the logrus
	// standard logger.
	Logger logrus.FieldLogger

	// Atomic writes to output+PartSuffix and renames on success, so a
	// failed run never replaces an existing output.
	Atomic bool
}

// Run extracts the default plan from input into output, writing in place.
func Run(ctx context.Context, input, output string) error {
	e := &Extractor{Plan: DefaultPlan()}
	return e.Run(ctx, input, output)
}

func (e *Extractor) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// Run opens input, creates output and copies the plan. Any failure aborts
// the run; in atomic mode the partial file is left at output+PartSuffix.
func (e *Extractor) Run(ctx context.Context, input, output string) (err error) {
	if err := e.Plan.Validate(); err != nil {
		return err
	}
	log := e.logger()
	target := output
	if e.Atomic {
		target = output + PartSuffix
	}

	src, err := h5trim.Open(input)
	if err != nil {
		return fmt.Errorf("open input %s: %w", input, err)
	}
	defer func() { _ = src.Close() }()

	w, err := h5trim.Create(target)
	if err != nil {
		return fmt.Errorf("create output %s: %w", target, err)
	}
	defer func() {
		if cerr := w.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("finish output %s: %w", target, cerr)
		}
	}()

	warn := h5trim.OnWarning(func(warning error) {
		log.WithError(warning).Debug("copy warning ignored")
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"step": "root attributes", "src": "/", "dst": "/"}).Info("copying")
	if err := w.CopyAttrs(src.Root(), "/", warn); err != nil {
		return fmt.Errorf("copy root attributes: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := e.Plan.Configuration
	log.WithFields(logrus.Fields{"step": "configuration", "src": cfg, "dst": cfg}).Info("copying")
	if err := copyTo(w, src, cfg, warn); err != nil {
		return fmt.Errorf("copy configuration %s: %w", cfg, err)
	}

	for _, table := range e.Plan.Tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"step": "table", "src": table, "dst": table}).Info("copying")
		if err := copyTo(w, src, table, warn); err != nil {
			return fmt.Errorf("copy table %s: %w", table, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("finish output %s: %w", target, err)
	}
	if e.Atomic {
		if err := os.Rename(target, output); err != nil {
			return fmt.Errorf("publish output: %w", err)
		}
	}
	log.WithFields(logrus.Fields{"step": "done", "dst": output}).Info("extraction complete")
	return nil
}

// copyTo copies the object at path in src to the same path in w, creating
// the groups above it. The source is looked up first so a missing path
// leaves no empty groups behind.
func copyTo(w *h5trim.Writer, src *h5trim.File, path string, opts ...h5trim.CopyOption) error {
	obj, err := src.Get(path)
	if err != nil {
		return err
	}
	group, _, _, name := SplitTablePath(path)
	if _, err := w.CreateGroup(group, true); err != nil {
		return err
	}
	return w.CopyNode(obj, group, name, opts...)
}

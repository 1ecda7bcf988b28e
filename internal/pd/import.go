package pd

import (
	"context"
	"fmt"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// ImportRequest describes one import batch.
type ImportRequest struct {
	// Images are the sources. They may belong to any library.
	Images []*Image

	// ToDirectory is the library-relative destination.
	ToDirectory string

	// FileTypes selects which backing files are copied. Zero means TypeAll.
	FileTypes FileType

	// PreferredType is the active file of imported pairs. Zero means TypeJPEG.
	PreferredType FileType

	// FilenameMap returns the base name to use for src. The default keeps the
	// source base name. Names that are still taken get a numeric suffix.
	FilenameMap func(src *Image, name string) string

	// Properties are set on every imported image.
	Properties map[string]Value

	// DeleteSourceFiles removes each source image after it was imported.
	DeleteSourceFiles bool
}

// ImportResult is the outcome of one source image.
type ImportResult struct {
	Source *Image
	// Image is the imported image, nil when the import failed.
	Image *Image
	Err   error
}

// ImportOperation tracks an asynchronous import batch.
type ImportOperation struct {
	ID string

	libraryID uint32
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	results  []ImportResult
	started  time.Time
	finished time.Time
}

func newImportOperation(parent context.Context, id string, libraryID uint32) *ImportOperation {
	ctx, cancel := context.WithCancel(parent)
	return &ImportOperation{
		ID:        id,
		libraryID: libraryID,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed when the operation finished.
func (op *ImportOperation) Done() <-chan struct{} { return op.done }

// Cancel stops the operation. Items already registered stay imported.
func (op *ImportOperation) Cancel() { op.cancel() }

// Wait blocks until the operation finished or ctx is done and returns the
// batch error, if any.
func (op *ImportOperation) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return op.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the per-source outcomes in submission order. It is
// complete once Done is closed.
func (op *ImportOperation) Results() []ImportResult {
	op.mu.Lock()
	defer op.mu.Unlock()
	return slices.Clone(op.results)
}

// Imported returns the images created by the operation.
func (op *ImportOperation) Imported() []*Image {
	var out []*Image
	for _, r := range op.Results() {
		if r.Image != nil {
			out = append(out, r.Image)
		}
	}
	return out
}

// Err returns a *BatchError listing failed items, or nil.
func (op *ImportOperation) Err() error {
	results := op.Results()
	b := batch{total: len(results)}
	for i, r := range results {
		if r.Err != nil {
			p := ""
			if r.Source != nil {
				p = r.Source.Path()
			}
			b.add(i, p, r.Err)
		}
	}
	return b.err()
}

// Duration reports how long the operation ran, zero until it finished.
func (op *ImportOperation) Duration() time.Duration {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finished.IsZero() {
		return 0
	}
	return op.finished.Sub(op.started)
}

// importTracker is the list of in-flight imports of a library. Batches run
// in submission order: each waits for the previous one to finish.
type importTracker struct {
	mu      sync.Mutex
	active  []*ImportOperation
	last    <-chan struct{}
	drained chan struct{}
}

func (t *importTracker) add(op *ImportOperation) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.last
	t.last = op.done
	t.active = append(t.active, op)
	return prev
}

func (t *importTracker) remove(op *ImportOperation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = slices.DeleteFunc(t.active, func(o *ImportOperation) bool { return o == op })
	if len(t.active) == 0 && t.drained != nil {
		close(t.drained)
		t.drained = nil
	}
}

func (t *importTracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if len(t.active) == 0 {
		t.mu.Unlock()
		return nil
	}
	if t.drained == nil {
		t.drained = make(chan struct{})
	}
	ch := t.drained
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *importTracker) snapshot() []*ImportOperation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.active)
}

func (t *importTracker) cancelAll() {
	for _, op := range t.snapshot() {
		op.Cancel()
	}
}

// ImportImages starts importing req.Images into the library and returns at
// once. Catalog ids are assigned in submission order, across batches too.
func (l *Library) ImportImages(req ImportRequest) (*ImportOperation, error) {
	if err := l.check("ImportImages"); err != nil {
		return nil, err
	}
	op := newImportOperation(l.ctx, l.ids.New(), l.id)
	prev := l.imports.add(op)
	l.logger.Info("import queued", "library", l.id, "operation", op.ID, "images", len(req.Images), "to", cleanPath(req.ToDirectory))
	go l.runImport(op, prev, req)
	return op, nil
}

// ActiveImports returns the operations that have not finished yet.
func (l *Library) ActiveImports() []*ImportOperation {
	return l.imports.snapshot()
}

// WaitForImportsToComplete blocks until every import queued so far has
// finished or ctx is done.
func (l *Library) WaitForImportsToComplete(ctx context.Context) error {
	return l.imports.wait(ctx)
}

// importPlan is the work for one source image.
type importPlan struct {
	src    *Image
	srcLib *Library
	snap   imageSnapshot
	base   string
	files  []importFile
	err    error
}

type importFile struct {
	kind FileType
	src  string
	dst  string // file name in the destination directory
}

func (p *importPlan) name(kind FileType) string {
	for _, f := range p.files {
		if f.kind == kind {
			return f.dst
		}
	}
	return ""
}

func (p *importPlan) destinations(dir string) []string {
	out := make([]string, len(p.files))
	for i, f := range p.files {
		out[i] = joinPath(dir, f.dst)
	}
	return out
}

func (l *Library) runImport(op *ImportOperation, prev <-chan struct{}, req ImportRequest) {
	defer func() {
		op.mu.Lock()
		op.finished = l.clock.Now()
		op.mu.Unlock()
		op.cancel()
		l.emit(Event{Kind: EventImportFinished, Path: cleanPath(req.ToDirectory), Operation: op})
		l.imports.remove(op)
		close(op.done)
	}()

	if prev != nil {
		select {
		case <-prev:
		case <-op.ctx.Done():
		}
	}
	op.mu.Lock()
	op.started = l.clock.Now()
	op.mu.Unlock()

	dir := cleanPath(req.ToDirectory)
	types := req.FileTypes
	if types == 0 {
		types = TypeAll
	}

	plans := make([]importPlan, len(req.Images))
	claimed, err := l.claimedBases(dir)
	for i, src := range req.Images {
		if err != nil {
			plans[i] = importPlan{src: src, err: err}
			continue
		}
		plans[i] = l.planImport(src, dir, types, req.FilenameMap, claimed)
	}

	if len(plans) > 0 {
		if err := l.fm.CreateDirectory(dir); err != nil {
			for i := range plans {
				if plans[i].err == nil {
					plans[i].err = err
				}
			}
		}
	}

	p := pool.New().WithMaxGoroutines(l.importWorkers).WithContext(op.ctx)
	for i := range plans {
		if plans[i].err != nil {
			continue
		}
		plan := &plans[i]
		p.Go(func(ctx context.Context) error {
			plan.err = l.copyPlan(ctx, dir, plan)
			return nil
		})
	}
	p.Wait()

	results := make([]ImportResult, len(plans))
	inactive := false
	qerr := l.background(func() {
		if !l.IsActive() {
			inactive = true
			return
		}
		for i := range plans {
			results[i] = ImportResult{Source: plans[i].src, Err: plans[i].err}
			if plans[i].err != nil {
				continue
			}
			img, err := l.registerImportLocked(dir, &plans[i], req)
			results[i].Image, results[i].Err = img, err
		}
	})
	if inactive {
		qerr = ErrInvalidated
	}
	if qerr != nil {
		// nothing was registered; drop the copies so no untracked files stay behind
		for i := range plans {
			if plans[i].err == nil {
				l.removeQuietly(plans[i].destinations(dir))
			}
			results[i] = ImportResult{Source: plans[i].src, Err: qerr}
		}
	}

	imported := 0
	for i := range results {
		if results[i].Image == nil {
			continue
		}
		imported++
		if req.DeleteSourceFiles {
			if err := results[i].Source.Remove(); err != nil {
				results[i].Err = fmt.Errorf("removing source: %w", err)
			}
		}
	}

	op.mu.Lock()
	op.results = results
	op.mu.Unlock()

	if imported > 0 {
		l.emit(Event{Kind: EventDirectoryChanged, Path: dir})
	}
	l.logger.Info("import finished", "library", l.id, "operation", op.ID, "imported", imported, "failed", len(results)-imported)
}

// planImport selects the files of src to copy and resolves their names.
// The chosen base name is added to claimed so later sources of the batch
// avoid it.
func (l *Library) planImport(src *Image, dir string, types FileType, fmap func(*Image, string) string, claimed map[string]bool) importPlan {
	plan := importPlan{src: src}
	srcLib, err := src.Library()
	if err != nil {
		plan.err = err
		return plan
	}
	snap, err := src.snapshot()
	if err != nil {
		plan.err = err
		return plan
	}
	plan.srcLib, plan.snap = srcLib, snap

	var files []imageFile
	for _, kind := range []FileType{TypeJPEG, TypeRAW} {
		if f, ok := snap.file(kind); ok && types.Has(kind) {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		plan.err = fmt.Errorf("%s has no %s file: %w", snap.base, types, ErrUnsupportedType)
		return plan
	}

	base := baseName(files[0].name)
	if fmap != nil {
		if mapped := fmap(src, base); mapped != "" {
			base = mapped
		}
	}
	base = uniqueBase(base, claimed)
	plan.base = base
	for _, f := range files {
		plan.files = append(plan.files, importFile{kind: f.kind, src: joinPath(snap.dir, f.name), dst: base + path.Ext(f.name)})
	}
	return plan
}

// uniqueBase appends _1, _2, ... to base until no image in the destination
// uses it as sidecar key, then claims the result. An image file of any type
// with the same base name counts as a use.
func uniqueBase(base string, claimed map[string]bool) string {
	candidate := base
	for n := 1; claimed[strings.ToLower(candidate)]; n++ {
		candidate = base + "_" + strconv.Itoa(n)
	}
	claimed[strings.ToLower(candidate)] = true
	return candidate
}

// copyPlan copies the files of one plan. The pair is all or nothing.
func (l *Library) copyPlan(ctx context.Context, dir string, plan *importPlan) error {
	var written []string
	for _, f := range plan.files {
		if err := ctx.Err(); err != nil {
			l.removeQuietly(written)
			return err
		}
		data, err := plan.srcLib.fm.ContentsOfFile(f.src)
		if err != nil {
			l.removeQuietly(written)
			return fmt.Errorf("reading %s: %w", f.src, err)
		}
		dst := joinPath(dir, f.dst)
		if err := l.fm.WriteData(dst, data, WriteOptions{Atomic: true, NoOverwrite: true}); err != nil {
			l.removeQuietly(written)
			return fmt.Errorf("writing %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	return nil
}

// registerImportLocked assigns catalog ids and explicit properties to one
// copied image. Must run on the library queue.
func (l *Library) registerImportLocked(dir string, plan *importPlan, req ImportRequest) (*Image, error) {
	jpeg, raw := plan.name(TypeJPEG), plan.name(TypeRAW)
	img, err := l.imageLocked(dir, plan.base, jpeg, raw)
	if err != nil {
		return nil, err
	}

	props := plan.snap.explicit.withoutIdentity()
	props.UUID = l.ids.New()
	for _, key := range slices.Sorted(maps.Keys(req.Properties)) {
		if err := props.Set(key, req.Properties[key]); err != nil {
			l.logger.Warn("import property ignored", "key", key, "error", err)
		}
	}
	if jpeg != "" && raw != "" {
		props.ActiveType = ActiveJPEG
		if req.PreferredType == TypeRAW {
			props.ActiveType = ActiveRAW
		}
	}

	img.mu.Lock()
	defer img.mu.Unlock()
	props.FileTypes = img.fileTypesLocked()
	if err := l.storeSidecarEntryLocked(dir, img.base, props); err != nil {
		return nil, err
	}
	img.explicit = props
	img.usesRAW = raw != "" && (jpeg == "" || props.ActiveType == ActiveRAW)
	return img, nil
}

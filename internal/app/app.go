package app

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"golang.org/x/term"

	"pd-go/internal/config"
	"pd-go/internal/database"
	"pd-go/internal/decoder"
	"pd-go/internal/encryption"
	"pd-go/internal/fs"
	"pd-go/internal/ignore"
	"pd-go/internal/pd"
	"pd-go/internal/watch"
)

// PassphraseEnv holds the passphrase of the private key used by encrypted
// libraries. When unset the user is prompted on the terminal.
const PassphraseEnv = "PD_PASSPHRASE"

// Options tune how a PDApp is built.
type Options struct {
	// Verbose also prints debug and info log lines to stderr.
	Verbose bool

	// Passphrase unlocks the private key of encrypted libraries. The
	// default reads PD_PASSPHRASE, then prompts on the terminal.
	Passphrase func() (string, error)
}

// PDApp is the application layer between the CLI and the library registry.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string locations, and synchronizes every library on Close.
type PDApp struct {
	cfg      *config.Config
	store    *database.SQLiteRegistryStore
	registry *pd.Registry
	logger   pd.Logger
	op       *Operation
	logFile  *os.File
}

// NewPDApp creates a fully wired PDApp from the given config.
// operation identifies the CLI command being run (e.g. "Import", "Sync").
// The caller must call Close when done.
func NewPDApp(cfg *config.Config, operation string, opts Options) (*PDApp, error) {
	op := NewOperation(operation, time.Now())

	logger, logFile, err := newLogger(cfg.LogDir, op.ID, cfg.LogFormat, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	store, err := database.NewRegistryStoreFromConfig(cfg.Registry)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating registry store: %w", err)
	}

	if err := os.MkdirAll(cfg.Cache.Dir, 0755); err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	factory := &fs.Factory{
		SFTP: fs.SFTPOptions{
			KeyPath:        cfg.SFTP.KeyPath,
			KnownHostsPath: cfg.SFTP.KnownHostsPath,
			Timeout:        cfg.SFTP.Timeout(),
		},
		S3: fs.S3Options{
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		},
	}
	if enc.IsConfigured() {
		passphrase := opts.Passphrase
		if passphrase == nil {
			passphrase = readPassphrase
		}
		factory.Cipher = encryption.NewSealer(enc, passphrase)
	}

	registry := pd.NewRegistry(store, factory, pd.Options{
		CacheRoot:       cfg.Cache.Dir,
		Decoder:         decoder.New(),
		Ignorer:         ignore.Factory(cfg.Filesystem.Ignore),
		Logger:          logger,
		PreviewSize:     cfg.Cache.PreviewSize,
		PrefetchWorkers: cfg.Cache.PrefetchWorkers,
		ImportWorkers:   cfg.Cache.ImportWorkers,
	})
	if err := registry.Load(); err != nil {
		// Unreachable libraries stay registered so they can be removed explicitly.
		logger.Warn("some libraries could not be loaded", "error", err)
	}

	logger.Debug("operation started", "operation", op.Name)
	return &PDApp{
		cfg:      cfg,
		store:    store,
		registry: registry,
		logger:   logger,
		op:       op,
		logFile:  logFile,
	}, nil
}

// readPassphrase reads PD_PASSPHRASE or prompts on the controlling terminal.
func readPassphrase() (string, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", encryption.ErrNoPassphrase
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// Operation returns the operation this app was created for.
func (a *PDApp) Operation() *Operation { return a.op }

// Registry exposes the underlying registry.
func (a *PDApp) Registry() *pd.Registry { return a.registry }

// AddLibrary registers the library at raw, a local path or a sftp://, s3://
// or memory: location. Adding a registered location returns its library.
func (a *PDApp) AddLibrary(raw string) (*pd.Library, error) {
	spec, err := fs.ParseSpec(raw)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	lib, err := a.registry.LibraryWithPath(spec, false)
	if err != nil {
		return nil, a.op.Fail(fmt.Errorf("adding library: %w", err))
	}
	return lib, nil
}

// Libraries returns the active libraries ordered by id.
func (a *PDApp) Libraries() []*pd.Library {
	return a.registry.AllLibraries()
}

// RemoveLibrary waits for pending imports of the library and forgets it.
// Files in the library are left alone.
func (a *PDApp) RemoveLibrary(ctx context.Context, ref string) error {
	lib, err := a.libraryRef(ref)
	if err != nil {
		return a.op.Fail(err)
	}
	if err := lib.WaitForImportsToComplete(ctx); err != nil {
		return a.op.Fail(err)
	}
	return a.op.Fail(a.registry.Remove(lib))
}

// RemoveInvalidLibraries forgets every library whose root is gone.
func (a *PDApp) RemoveInvalidLibraries() ([]uint32, error) {
	ids, err := a.registry.RemoveInvalidLibraries()
	return ids, a.op.Fail(err)
}

// Synchronize writes pending catalog and sidecar changes of the library
// named by ref, or of every library when ref is empty.
func (a *PDApp) Synchronize(ref string) error {
	libs, err := a.libraries(ref)
	if err != nil {
		return a.op.Fail(err)
	}
	var errs []error
	for _, lib := range libs {
		if err := lib.Synchronize(); err != nil {
			errs = append(errs, fmt.Errorf("library %d: %w", lib.ID(), err))
		}
	}
	return a.op.Fail(errors.Join(errs...))
}

// CollectGarbage drops cached previews of files no longer in the catalog
// and returns how many were removed.
func (a *PDApp) CollectGarbage(ref string) (int, error) {
	libs, err := a.libraries(ref)
	if err != nil {
		return 0, a.op.Fail(err)
	}
	total := 0
	var errs []error
	for _, lib := range libs {
		n, err := lib.CollectGarbage()
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("library %d: %w", lib.ID(), err))
		}
	}
	return total, a.op.Fail(errors.Join(errs...))
}

// EmptyCaches discards every cached preview.
func (a *PDApp) EmptyCaches(ref string) error {
	libs, err := a.libraries(ref)
	if err != nil {
		return a.op.Fail(err)
	}
	var errs []error
	for _, lib := range libs {
		if err := lib.EmptyCaches(); err != nil {
			errs = append(errs, fmt.Errorf("library %d: %w", lib.ID(), err))
		}
	}
	return a.op.Fail(errors.Join(errs...))
}

// Listing is the content of one library directory.
type Listing struct {
	Library     *pd.Library
	Directory   string
	Directories []string
	Images      []*pd.Image
}

// List returns the subdirectories and images of the directory at raw. With
// recursive set, images of nested directories are included.
func (a *PDApp) List(ctx context.Context, raw string, recursive bool) (*Listing, error) {
	lib, dir, err := a.resolve(raw, false)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	out := &Listing{Library: lib, Directory: dir}
	if err := lib.ForeachSubdirectory(dir, func(sub string) {
		out.Directories = append(out.Directories, sub)
	}); err != nil {
		return nil, a.op.Fail(err)
	}
	if err := lib.LoadImagesInSubdirectory(ctx, dir, recursive, func(img *pd.Image) {
		out.Images = append(out.Images, img)
	}); err != nil {
		return nil, a.op.Fail(err)
	}
	return out, nil
}

// ImportOptions configure Import.
type ImportOptions struct {
	FileTypes     pd.FileType
	PreferredType pd.FileType
	// NamePrefix is prepended to every imported base name.
	NamePrefix string
	// Properties are parsed with pd.ParseValue and set on every imported image.
	Properties   map[string]string
	DeleteSource bool
}

// Import copies the images at srcs into the directory dest and waits for
// the batch to finish. Sources outside every library are read through a
// transient library.
func (a *PDApp) Import(ctx context.Context, srcs []string, dest string, opts ImportOptions) (*pd.ImportOperation, error) {
	images, err := a.images(ctx, srcs, true)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	lib, dir, err := a.resolve(dest, false)
	if err != nil {
		return nil, a.op.Fail(err)
	}

	req := pd.ImportRequest{
		Images:            images,
		ToDirectory:       dir,
		FileTypes:         opts.FileTypes,
		PreferredType:     opts.PreferredType,
		DeleteSourceFiles: opts.DeleteSource,
	}
	if opts.NamePrefix != "" {
		req.FilenameMap = func(_ *pd.Image, name string) string { return opts.NamePrefix + name }
	}
	if len(opts.Properties) > 0 {
		req.Properties = make(map[string]pd.Value, len(opts.Properties))
		for k, v := range opts.Properties {
			req.Properties[k] = pd.ParseValue(v, k == pd.KeyKeywords)
		}
	}

	iop, err := lib.ImportImages(req)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	if err := iop.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			iop.Cancel()
		}
		return iop, a.op.Fail(err)
	}
	a.logger.Info("import finished", "library", lib.ID(), "images", len(iop.Imported()), "duration", iop.Duration())
	return iop, nil
}

// Copy copies the images at srcs into the directory dest. Copies between
// libraries go through an import.
func (a *PDApp) Copy(ctx context.Context, srcs []string, dest string) ([]*pd.Image, error) {
	images, err := a.images(ctx, srcs, false)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	lib, dir, err := a.resolve(dest, false)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	if sameLibrary(lib, images) {
		copies, err := lib.CopyImages(images, dir)
		return copies, a.op.Fail(err)
	}
	iop, err := lib.ImportImages(pd.ImportRequest{Images: images, ToDirectory: dir})
	if err != nil {
		return nil, a.op.Fail(err)
	}
	err = iop.Wait(ctx)
	return iop.Imported(), a.op.Fail(err)
}

// Move moves the images at srcs into the directory dest. Moves between
// libraries import the images and delete the sources.
func (a *PDApp) Move(ctx context.Context, srcs []string, dest string) error {
	images, err := a.images(ctx, srcs, false)
	if err != nil {
		return a.op.Fail(err)
	}
	lib, dir, err := a.resolve(dest, false)
	if err != nil {
		return a.op.Fail(err)
	}
	if sameLibrary(lib, images) {
		return a.op.Fail(lib.MoveImages(images, dir))
	}
	iop, err := lib.ImportImages(pd.ImportRequest{Images: images, ToDirectory: dir, DeleteSourceFiles: true})
	if err != nil {
		return a.op.Fail(err)
	}
	return a.op.Fail(iop.Wait(ctx))
}

func sameLibrary(lib *pd.Library, images []*pd.Image) bool {
	for _, img := range images {
		if img.LibraryID() != lib.ID() {
			return false
		}
	}
	return true
}

// MoveDirectory renames the directory src to dst within one library.
func (a *PDApp) MoveDirectory(src, dst string) error {
	lib, from, err := a.resolve(src, false)
	if err != nil {
		return a.op.Fail(err)
	}
	dlib, to, err := a.resolve(dst, false)
	if err != nil {
		return a.op.Fail(err)
	}
	if dlib != lib {
		return a.op.Fail(fmt.Errorf("cannot move a directory between libraries: %w", pd.ErrInvalidValue))
	}
	return a.op.Fail(lib.RenameDirectory(from, to))
}

// MakeDirectory creates the directory at raw and its parents.
func (a *PDApp) MakeDirectory(raw string) error {
	lib, dir, err := a.resolve(raw, false)
	if err != nil {
		return a.op.Fail(err)
	}
	return a.op.Fail(lib.CreateDirectory(dir))
}

// Remove deletes the images at srcs with their backing files.
func (a *PDApp) Remove(ctx context.Context, srcs []string) error {
	images, err := a.images(ctx, srcs, false)
	if err != nil {
		return a.op.Fail(err)
	}
	return a.op.Fail(pd.RemoveImages(images))
}

// Property is one resolved image property.
type Property struct {
	Key      string
	Value    pd.Value
	Editable bool
}

var editableKeys = []string{
	pd.KeyUUID, pd.KeyTitle, pd.KeyCaption, pd.KeyKeywords,
	pd.KeyRating, pd.KeyFlagged, pd.KeyHidden, pd.KeyDeleted,
}

// Properties lists the explicit and implicit properties of the image at raw.
func (a *PDApp) Properties(ctx context.Context, raw string) ([]Property, error) {
	imgs, err := a.images(ctx, []string{raw}, false)
	if err != nil {
		return nil, a.op.Fail(err)
	}
	img := imgs[0]

	explicit := img.ExplicitProperties()
	keys := slices.Clone(editableKeys)
	keys = append(keys, slices.Sorted(maps.Keys(explicit.Extra))...)
	keys = append(keys, img.ImplicitProperties().Keys()...)

	var out []Property
	seen := make(map[string]bool)
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		if v, ok := img.PropertyForKey(k); ok {
			out = append(out, Property{Key: k, Value: v, Editable: pd.IsEditableKey(k)})
		}
	}
	return out, nil
}

// GetProperty returns the value of key for the image at raw.
func (a *PDApp) GetProperty(ctx context.Context, raw, key string) (pd.Value, bool, error) {
	imgs, err := a.images(ctx, []string{raw}, false)
	if err != nil {
		return pd.Value{}, false, a.op.Fail(err)
	}
	v, ok := imgs[0].PropertyForKey(key)
	return v, ok, nil
}

// SetProperty parses text and stores it under key on every image at raws.
// An empty text clears the key.
func (a *PDApp) SetProperty(ctx context.Context, raws []string, key, text string, asList bool) error {
	images, err := a.images(ctx, raws, false)
	if err != nil {
		return a.op.Fail(err)
	}
	var value pd.Value
	if text != "" {
		value = pd.ParseValue(text, asList)
	}
	var errs []error
	for _, img := range images {
		if err := img.SetProperty(key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", img.Path(), err))
		}
	}
	return a.op.Fail(errors.Join(errs...))
}

// WarmCache generates previews for the images below raw. progress, if set,
// is called after each image. It returns the number of previews generated.
func (a *PDApp) WarmCache(ctx context.Context, raw string, recursive bool, progress func(*pd.Image, error)) (int, error) {
	lib, dir, err := a.resolve(raw, false)
	if err != nil {
		return 0, a.op.Fail(err)
	}
	var images []*pd.Image
	if err := lib.LoadImagesInSubdirectory(ctx, dir, recursive, func(img *pd.Image) {
		images = append(images, img)
	}); err != nil {
		return 0, a.op.Fail(err)
	}

	n := 0
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return n, a.op.Fail(err)
		}
		_, err := lib.GeneratePreview(ctx, img)
		if err == nil {
			n++
		} else {
			a.logger.Warn("preview failed", "path", img.Path(), "error", err)
		}
		if progress != nil {
			progress(img, err)
		}
	}
	return n, nil
}

// Watch follows external changes to a local library until ctx is done.
// fn, if set, receives every library event.
func (a *PDApp) Watch(ctx context.Context, ref string, fn func(pd.Event)) error {
	lib, err := a.libraryRef(ref)
	if err != nil {
		return a.op.Fail(err)
	}
	w, err := watch.New(lib, watch.Options{Debounce: watch.DefaultDebounce, Logger: a.logger})
	if err != nil {
		return a.op.Fail(err)
	}
	if fn != nil {
		remove := lib.AddObserver(fn)
		defer remove()
	}
	a.logger.Info("watching library", "library", lib.ID(), "directories", len(w.Directories()))
	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return a.op.Fail(err)
}

// Close synchronizes every library, saves the registry and closes all
// resources.
func (a *PDApp) Close() error {
	var errs []error

	if err := a.registry.Close(); err != nil {
		a.op.Fail(err)
		errs = append(errs, fmt.Errorf("closing registry: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing registry store: %w", err))
	}

	a.logger.Info("operation finished", "operation", a.op.Name, "status", a.op.Status, "elapsed", a.op.Elapsed(time.Now()))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

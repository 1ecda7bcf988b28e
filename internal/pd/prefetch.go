package pd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"slices"
	"sync"

	"pd-go/internal/cache"
)

// ImageHost consumes previews of images. SetPreview is called from a
// prefetch goroutine and must not remove its own subscription.
type ImageHost interface {
	SetPreview(img *Image, preview image.Image)
}

// ImageHostFunc adapts a function to ImageHost.
type ImageHostFunc func(img *Image, preview image.Image)

func (f ImageHostFunc) SetPreview(img *Image, preview image.Image) { f(img, preview) }

// HostSubscription is the registration of one host with one image. Once
// cancelled its host is never called again.
type HostSubscription struct {
	img  *Image
	host ImageHost

	mu        sync.Mutex
	cancelled bool
}

func (s *HostSubscription) deliver(ctx context.Context, preview image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || ctx.Err() != nil {
		return
	}
	s.host.SetPreview(s.img, preview)
}

// Cancel removes the subscription from its image.
func (s *HostSubscription) Cancel() { s.img.RemoveImageHost(s) }

func (s *HostSubscription) cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// Cancelled reports whether the subscription was removed.
func (s *HostSubscription) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

type prefetchState struct {
	mu      sync.Mutex
	hosts   []*HostSubscription
	task    *prefetchTask
	preview image.Image
}

type prefetchTask struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// AddImageHost subscribes host to previews of the image and starts
// prefetching. A preview that is already loaded is delivered at once.
func (img *Image) AddImageHost(host ImageHost) *HostSubscription {
	sub := &HostSubscription{img: img, host: host}
	img.prefetch.mu.Lock()
	img.prefetch.hosts = append(img.prefetch.hosts, sub)
	preview := img.prefetch.preview
	img.prefetch.mu.Unlock()

	if preview != nil {
		sub.deliver(context.Background(), preview)
		return sub
	}
	img.StartPrefetching()
	return sub
}

// RemoveImageHost cancels sub. It does not stop a running prefetch; call
// StopPrefetching for that.
func (img *Image) RemoveImageHost(sub *HostSubscription) {
	sub.cancel()
	img.prefetch.mu.Lock()
	defer img.prefetch.mu.Unlock()
	img.prefetch.hosts = slices.DeleteFunc(img.prefetch.hosts, func(s *HostSubscription) bool { return s == sub })
}

// UpdateImageHost re-delivers the loaded preview to sub without fetching.
// It reports whether a preview was available.
func (img *Image) UpdateImageHost(sub *HostSubscription) bool {
	img.prefetch.mu.Lock()
	preview := img.prefetch.preview
	img.prefetch.mu.Unlock()
	if preview == nil {
		return false
	}
	sub.deliver(context.Background(), preview)
	return true
}

// Preview returns the loaded preview, or nil.
func (img *Image) Preview() image.Image {
	img.prefetch.mu.Lock()
	defer img.prefetch.mu.Unlock()
	return img.prefetch.preview
}

// IsPrefetching reports whether a prefetch task is in flight.
func (img *Image) IsPrefetching() bool {
	img.prefetch.mu.Lock()
	defer img.prefetch.mu.Unlock()
	return img.prefetch.task != nil
}

// StartPrefetching loads the implicit properties and a preview in the
// background and hands the preview to every host. It does nothing while a
// prefetch is already in flight.
func (img *Image) StartPrefetching() {
	lib, err := img.Library()
	if err != nil {
		return
	}
	img.prefetch.mu.Lock()
	if img.prefetch.task != nil {
		img.prefetch.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(lib.ctx)
	task := &prefetchTask{ctx: ctx, cancel: cancel}
	img.prefetch.task = task
	img.prefetch.mu.Unlock()

	lib.prefetchWG.Go(func() {
		lib.runPrefetch(img, task)
	})
}

// StopPrefetching cancels the in-flight prefetch unless a host is still
// subscribed.
func (img *Image) StopPrefetching() {
	img.prefetch.mu.Lock()
	defer img.prefetch.mu.Unlock()
	if img.prefetch.task == nil || len(img.prefetch.hosts) > 0 {
		return
	}
	img.prefetch.task.cancel()
	img.prefetch.task = nil
}

// resetPreview drops the loaded preview after the active file changed.
func (img *Image) resetPreview() {
	img.prefetch.mu.Lock()
	img.prefetch.preview = nil
	img.prefetch.mu.Unlock()
}

func (l *Library) runPrefetch(img *Image, task *prefetchTask) {
	ctx := task.ctx
	defer func() {
		task.cancel()
		img.prefetch.mu.Lock()
		if img.prefetch.task == task {
			img.prefetch.task = nil
		}
		img.prefetch.mu.Unlock()
	}()

	select {
	case l.prefetchSem <- struct{}{}:
		defer func() { <-l.prefetchSem }()
	case <-ctx.Done():
		return
	}

	img.ImplicitProperties()
	if ctx.Err() != nil {
		return
	}
	preview, err := l.GeneratePreview(ctx, img)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Debug("prefetch failed", "image", img.Name().String(), "error", err)
		}
		return
	}

	img.prefetch.mu.Lock()
	if ctx.Err() != nil {
		img.prefetch.mu.Unlock()
		return
	}
	img.prefetch.preview = preview
	hosts := slices.Clone(img.prefetch.hosts)
	img.prefetch.mu.Unlock()

	for _, sub := range hosts {
		sub.deliver(ctx, preview)
	}
}

// GeneratePreview returns the cached preview of the active file of img,
// decoding and caching it when missing.
func (l *Library) GeneratePreview(ctx context.Context, img *Image) (image.Image, error) {
	if err := l.owns(img); err != nil {
		return nil, err
	}
	id, p, name := img.FileID(), img.Path(), img.File()
	if id == 0 {
		return nil, ErrImageRemoved
	}

	var buf bytes.Buffer
	err := l.cache.Get(id, previewBase, &buf)
	switch {
	case err == nil:
		preview, err := jpeg.Decode(&buf)
		if err == nil {
			return preview, nil
		}
		l.logger.Debug("discarding unreadable preview", "file_id", id, "error", err)
	case !errors.Is(err, cache.ErrNotFound):
		l.logger.Debug("reading cached preview failed", "file_id", id, "error", err)
	}

	if l.decoder == nil {
		return nil, fmt.Errorf("no decoder configured: %w", ErrUnsupportedType)
	}
	data, err := l.fm.ContentsOfFile(p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	preview, err := l.decoder.Preview(name, data, l.previewSize)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf.Reset()
	if err := jpeg.Encode(&buf, preview, &jpeg.Options{Quality: 85}); err != nil {
		l.logger.Debug("encoding preview failed", "file_id", id, "error", err)
		return preview, nil
	}
	if err := l.cache.Put(id, previewBase, &buf, int64(buf.Len())); err != nil {
		l.logger.Debug("caching preview failed", "file_id", id, "error", err)
	}
	return preview, nil
}

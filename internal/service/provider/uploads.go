package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"arbor/internal/blob"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

// UploadCache memoizes attachment uploads keyed by (provider, content id),
// so re-sending a message or retrying a generation reuses the provider-side
// file handle instead of uploading the bytes again. A cache miss raced by
// two goroutines may upload twice; both handles are valid and the last
// write wins.
type UploadCache struct {
	mu      sync.RWMutex
	handles map[string]string
	blobs   blob.Store
	logger  *slog.Logger
}

// NewUploadCache creates an upload cache reading attachment bytes from blobs.
func NewUploadCache(blobs blob.Store, logger *slog.Logger) *UploadCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadCache{
		handles: make(map[string]string),
		blobs:   blobs,
		logger:  logger,
	}
}

func cacheKey(provider, contentID string) string {
	return provider + "/" + contentID
}

// Handle returns the provider-side handle for an attachment, uploading it
// through p on a cache miss. The upload runs without holding the lock.
func (c *UploadCache) Handle(ctx context.Context, p convSvc.Provider, att conv.Attachment) (string, error) {
	key := cacheKey(p.Name(), att.ContentID)

	c.mu.RLock()
	handle, ok := c.handles[key]
	c.mu.RUnlock()
	if ok {
		return handle, nil
	}

	r, err := c.blobs.Open(ctx, att.ContentID)
	if err != nil {
		return "", fmt.Errorf("open attachment %s: %w", att.ContentID, err)
	}
	defer r.Close()

	handle, err = p.UploadAttachment(ctx, att, r)
	if err != nil {
		return "", fmt.Errorf("upload attachment %s to %s: %w", att.ContentID, p.Name(), err)
	}

	c.mu.Lock()
	c.handles[key] = handle
	c.mu.Unlock()

	c.logger.Debug("attachment uploaded",
		"provider", p.Name(),
		"content_id", att.ContentID)
	return handle, nil
}

// Resolve returns handles for every attachment across the given messages,
// keyed by content id, uploading any that are not yet cached.
func (c *UploadCache) Resolve(ctx context.Context, p convSvc.Provider, msgs []convSvc.PromptMessage) (map[string]string, error) {
	refs := make(map[string]string)
	for _, m := range msgs {
		for _, att := range m.Attachments {
			if _, ok := refs[att.ContentID]; ok {
				continue
			}
			handle, err := c.Handle(ctx, p, att)
			if err != nil {
				return nil, err
			}
			refs[att.ContentID] = handle
		}
	}
	return refs, nil
}

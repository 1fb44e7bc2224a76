// Package storage turns product image references into URLs that can be embedded in
// customer-facing notifications.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultSignedURLTTL = 72 * time.Hour
	// V4 signatures are rejected beyond seven days.
	maxSignedURLTTL = 7 * 24 * time.Hour
)

var (
	errNoSigner       = errors.New("storage: signer is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidObject  = errors.New("storage: object name is required")
	errUnsupportedRef = errors.New("storage: unsupported image reference")
)

type signFunc func(bucket, object string, opts *storage.SignedURLOptions) (string, error)

// Client resolves image references. gs:// objects are signed as V4 GET URLs; http(s) URLs are
// returned as they are; paths are resolved against the public base URL.
type Client struct {
	sign    signFunc
	ttl     time.Duration
	now     func() time.Time
	baseURL *url.URL
	bucket  string
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithTTL sets how long signed URLs stay valid. Values beyond seven days are capped.
func WithTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = min(ttl, maxSignedURLTTL)
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithBaseURL resolves relative image paths such as /images/air-max.png against base.
func WithBaseURL(base string) ClientOption {
	return func(c *Client) {
		if parsed, err := url.Parse(strings.TrimSpace(base)); err == nil && parsed.Host != "" {
			c.baseURL = parsed
		}
	}
}

// WithAssetsBucket resolves bare object names such as products/air-max-90.jpg inside bucket.
func WithAssetsBucket(bucket string) ClientOption {
	return func(c *Client) {
		c.bucket = strings.TrimSpace(bucket)
	}
}

// NewClient signs with an explicit Signer, typically a service account key.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	sign := func(bucket, object string, urlOpts *storage.SignedURLOptions) (string, error) {
		urlOpts.GoogleAccessID = signer.Email()
		urlOpts.SignBytes = func(payload []byte) ([]byte, error) {
			return signer.SignBytes(context.Background(), payload)
		}
		return storage.SignedURL(bucket, object, urlOpts)
	}
	return newClient(sign, opts...), nil
}

// NewClientFromStorage signs through a Cloud Storage client, which detects the service account
// from the runtime credentials and falls back to the IAM signBlob API when no key is available.
func NewClientFromStorage(gcs *storage.Client, opts ...ClientOption) (*Client, error) {
	if gcs == nil {
		return nil, errNoSigner
	}
	sign := func(bucket, object string, urlOpts *storage.SignedURLOptions) (string, error) {
		return gcs.Bucket(bucket).SignedURL(object, urlOpts)
	}
	return newClient(sign, opts...), nil
}

func newClient(sign signFunc, opts ...ClientOption) *Client {
	client := &Client{sign: sign, ttl: defaultSignedURLTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// SignedURL returns a V4 GET URL for bucket/object valid for the configured TTL.
func (c *Client) SignedURL(ctx context.Context, bucket, object string) (string, error) {
	if c == nil || c.sign == nil {
		return "", errNoSigner
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", errInvalidBucket
	}
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return "", errInvalidObject
	}

	signed, err := c.sign(bucket, object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: c.now().Add(c.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s/%s: %w", bucket, object, err)
	}
	return signed, nil
}

// ImageURL resolves an item image reference. An empty reference yields an empty URL.
func (c *Client) ImageURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return "", nil
	case strings.HasPrefix(ref, "gs://"):
		bucket, object, _ := strings.Cut(strings.TrimPrefix(ref, "gs://"), "/")
		return c.SignedURL(ctx, bucket, object)
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		return ref, nil
	case strings.HasPrefix(ref, "/"):
		if c == nil || c.baseURL == nil {
			return ref, nil
		}
		return c.baseURL.JoinPath(ref).String(), nil
	case c != nil && c.bucket != "" && !strings.Contains(ref, "://"):
		return c.SignedURL(ctx, c.bucket, ref)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedRef, ref)
	}
}

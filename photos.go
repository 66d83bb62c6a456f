package circloth

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PhotoStore holds item photos in object storage.
type PhotoStore interface {
	// Put stores body under key and returns the public URL.
	Put(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	// Delete removes the object a public URL points at.
	Delete(ctx context.Context, photoURL string) error
}

// S3API is the subset of the S3 client used by S3PhotoStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3PhotoConfig configures S3PhotoStore.
type S3PhotoConfig struct {
	Bucket string
	Region string
	// Prefix is prepended to every object key, e.g. "items/".
	Prefix string
	// PublicBaseURL overrides the virtual-hosted bucket URL returned by Put.
	PublicBaseURL string
}

// S3PhotoStore is a PhotoStore on Amazon S3.
type S3PhotoStore struct {
	api S3API
	cfg S3PhotoConfig
}

// NewS3PhotoStore builds a store from the default AWS credential chain.
func NewS3PhotoStore(ctx context.Context, cfg S3PhotoConfig) (*S3PhotoStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 photo store: bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("s3 photo store: loading aws config: %w", err)
	}
	return NewS3PhotoStoreWithAPI(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewS3PhotoStoreWithAPI builds a store on an existing client.
func NewS3PhotoStoreWithAPI(api S3API, cfg S3PhotoConfig) *S3PhotoStore {
	return &S3PhotoStore{api: api, cfg: cfg}
}

func (p *S3PhotoStore) Put(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	fullKey := p.cfg.Prefix + strings.TrimLeft(key, "/")
	_, err := p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.cfg.Bucket),
		Key:          aws.String(fullKey),
		Body:         body,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=31536000"),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", fullKey, err)
	}
	return p.publicURL(fullKey), nil
}

func (p *S3PhotoStore) Delete(ctx context.Context, photoURL string) error {
	key, err := ObjectKey(photoURL)
	if err != nil {
		return err
	}
	key = strings.TrimPrefix(key, p.cfg.Bucket+"/")
	_, err = p.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (p *S3PhotoStore) publicURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if p.cfg.PublicBaseURL != "" {
		return strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, escaped)
}

// ObjectKey extracts the object key from a photo URL. It understands
// Firebase download URLs (".../o/<escaped key>?alt=media") and plain
// bucket URLs.
func ObjectKey(photoURL string) (string, error) {
	u, err := url.Parse(photoURL)
	if err != nil {
		return "", fmt.Errorf("invalid photo url: %w", err)
	}
	if i := strings.Index(u.EscapedPath(), "/o/"); i >= 0 {
		key, err := url.PathUnescape(u.EscapedPath()[i+len("/o/"):])
		if err != nil {
			return "", fmt.Errorf("invalid photo url: %w", err)
		}
		if key != "" {
			return key, nil
		}
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("invalid photo url: no object key in %q", photoURL)
	}
	return key, nil
}

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".webp": "image/webp", ".heic": "image/heic", ".heif": "image/heif",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

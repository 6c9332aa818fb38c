package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var (
	ErrUnknownBucket     = errors.New("unknown storage bucket")
	ErrInvalidObjectPath = errors.New("invalid object path")
	ErrLinkExpired       = errors.New("download link expired")
	ErrLinkSignature     = errors.New("download link signature mismatch")
)

// ObjectStorage persists generated artifacts and hands out time-limited download links
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) error
	SignedURL(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error)
}

func cleanObjectPath(objectPath string) (string, error) {
	p := strings.TrimPrefix(path.Clean("/"+objectPath), "/")
	if p == "" || p == "." || strings.Contains(objectPath, "..") {
		return "", ErrInvalidObjectPath
	}
	return p, nil
}

// GCSStorage stores objects in Google Cloud Storage. Logical bucket names
// ("exports", "reports") are mapped to real bucket names.
type GCSStorage struct {
	client  *storage.Client
	buckets map[string]string
	timeout time.Duration
}

// NewGCSStorage creates a GCS client; credentialsFile may be empty to use ambient credentials
func NewGCSStorage(ctx context.Context, credentialsFile string, buckets map[string]string, timeout time.Duration) (*GCSStorage, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GCSStorage{client: client, buckets: buckets, timeout: timeout}, nil
}

func (s *GCSStorage) bucketName(bucket string) (string, error) {
	name, ok := s.buckets[bucket]
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	return name, nil
}

func (s *GCSStorage) Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader) error {
	name, err := s.bucketName(bucket)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(name).Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func (s *GCSStorage) SignedURL(_ context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return "", err
	}
	u, err := s.client.Bucket(name).SignedURL(objectPath, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign GCS url: %w", err)
	}
	return u, nil
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}

// LocalStorage keeps objects on disk and signs download links served by the files handler
type LocalStorage struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

func NewLocalStorage(root, baseURL, secret string) (*LocalStorage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	if secret == "" {
		return nil, fmt.Errorf("local storage signing secret is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

func (s *LocalStorage) filePath(bucket, objectPath string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\.`) {
		return "", fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(p)), nil
}

func (s *LocalStorage) Upload(ctx context.Context, bucket, objectPath, _ string, body io.Reader) error {
	dst, err := s.filePath(bucket, objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create object file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write object file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *LocalStorage) sign(bucket, objectPath string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = fmt.Fprintf(mac, "%s\n%s\n%d", bucket, objectPath, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *LocalStorage) SignedURL(_ context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(bucket, p, expires))
	return fmt.Sprintf("%s/api/v1/files/%s/%s?%s", s.baseURL, url.PathEscape(bucket), p, q.Encode()), nil
}

// Open verifies a signed link and opens the object it points to
func (s *LocalStorage) Open(bucket, objectPath, expires, sig string) (*os.File, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return nil, err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return nil, ErrLinkSignature
	}
	if s.now().Unix() > exp {
		return nil, ErrLinkExpired
	}
	if !hmac.Equal([]byte(s.sign(bucket, p, exp)), []byte(sig)) {
		return nil, ErrLinkSignature
	}
	src, err := s.filePath(bucket, p)
	if err != nil {
		return nil, err
	}
	return os.Open(src)
}

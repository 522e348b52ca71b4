// Package snapshot archives composed feeds, with their full sub-score
// breakdown, to R2-compatible object storage for offline ranking
// diagnostics. Each archive returns a short-lived presigned download URL.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/onnwee/feedmixer/internal/feed"
)

// Configuration and input errors.
var (
	ErrMissingBucket   = errors.New("bucket name is required")
	ErrMissingKeyID    = errors.New("access key ID is required")
	ErrMissingSecret   = errors.New("secret access key is required")
	ErrMissingEndpoint = errors.New("endpoint is required")
	ErrNilResult       = errors.New("cannot archive a nil feed result")
	ErrMissingUserID   = errors.New("feed result carries no user ID")
)

// DefaultURLExpiry bounds how long a presigned download link stays valid.
const DefaultURLExpiry = 15 * time.Minute

// Archive describes one stored feed snapshot.
type Archive struct {
	// Key is the object key in the bucket.
	Key string `json:"key"`

	// URL is a presigned GET URL for the snapshot object.
	URL string `json:"url"`

	// ExpiresAt is when the presigned URL stops working.
	ExpiresAt time.Time `json:"expires_at"`

	// UserID is the user the archived feed was composed for.
	UserID string `json:"user_id"`

	// GeneratedAt is the feed's own generation timestamp.
	GeneratedAt time.Time `json:"generated_at"`
}

// objectPutter is the slice of the S3 API Archive writes through.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// objectPresigner is the slice of the presign API Archive reads through.
type objectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error)
}

// v4PresignedRequest mirrors the URL-bearing part of the SDK's presigned
// request type; see presignAdapter.
type v4PresignedRequest struct {
	URL string
}

// presignAdapter wraps the concrete presign client behind objectPresigner.
type presignAdapter struct {
	client *s3.PresignClient
}

func (a *presignAdapter) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4PresignedRequest, error) {
	req, err := a.client.PresignGetObject(ctx, params, optFns...)
	if err != nil {
		return nil, err
	}
	return &v4PresignedRequest{URL: req.URL}, nil
}

// ServiceConfig holds configuration for the snapshot service.
type ServiceConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string

	// URLExpiry overrides DefaultURLExpiry when positive.
	URLExpiry time.Duration
}

// Service archives feed results to object storage.
type Service struct {
	putter     objectPutter
	presigner  objectPresigner
	bucketName string
	urlExpiry  time.Duration
	timeNow    func() time.Time // For testability
}

// NewService creates a snapshot service with an R2-compatible S3 client.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.BucketName == "" {
		return nil, ErrMissingBucket
	}
	if cfg.AccessKeyID == "" {
		return nil, ErrMissingKeyID
	}
	if cfg.SecretAccessKey == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}

	// R2 uses the auto region and path-style addressing.
	client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // No session token for R2
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		putter:     client,
		presigner:  &presignAdapter{client: s3.NewPresignClient(client)},
		bucketName: cfg.BucketName,
		urlExpiry:  cfg.URLExpiry,
		timeNow:    time.Now,
	}, nil
}

// ObjectKey builds the key for one archived feed.
// Pattern: feeds/{userID}/{yyyy-mm-dd}/{uuid}.json
func ObjectKey(userID string, generatedAt time.Time) string {
	return fmt.Sprintf("feeds/%s/%s/%s.json",
		sanitizePathComponent(userID),
		generatedAt.UTC().Format("2006-01-02"),
		uuid.New().String(),
	)
}

// sanitizePathComponent removes characters that could escape the key prefix.
func sanitizePathComponent(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "unknown"
	}
	return result.String()
}

// Archive stores the result as a JSON object and returns a presigned
// download URL for it.
func (s *Service) Archive(ctx context.Context, result *feed.Result) (*Archive, error) {
	if result == nil {
		return nil, ErrNilResult
	}
	userID := result.CompositionUsed.UserID
	if userID == "" {
		return nil, ErrMissingUserID
	}

	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal feed snapshot: %w", err)
	}

	key := ObjectKey(userID, result.GeneratedAt)

	_, err = s.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return nil, fmt.Errorf("store feed snapshot: %w", err)
	}

	presigned, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("presign feed snapshot: %w", err)
	}

	return &Archive{
		Key:         key,
		URL:         presigned.URL,
		ExpiresAt:   s.timeNow().Add(s.urlExpiry),
		UserID:      userID,
		GeneratedAt: result.GeneratedAt,
	}, nil
}

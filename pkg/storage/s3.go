package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const (
	// MaxTemplateFileSize is the maximum allowed size for ticket template uploads (5MB).
	MaxTemplateFileSize = 5 * 1024 * 1024
	// FolderTemplates is the S3 prefix for ticket template images.
	FolderTemplates = "templates"
	// FolderTickets is the S3 prefix for rendered ticket artifacts.
	FolderTickets = "tickets"
)

// Allowed template MIME types and extensions.
var (
	AllowedTemplateTypes = map[string]string{
		"image/jpeg": ".jpg",
		"image/jpg":  ".jpg",
		"image/png":  ".png",
	}
	AllowedTemplateExtensions = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
	}
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	TicketsBucket        string
	PresignExpireMinutes int
}

// S3 provides S3 operations with validation and pre-signed URLs.
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	cfg      S3Config
	logger   *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or the environment.
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
	} else if logger != nil {
		logger.Warn("S3 client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client)
	return &S3{
		client:   client,
		uploader: uploader,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// ValidateTemplateFileType returns true if the content type and/or extension are allowed.
func ValidateTemplateFileType(contentType, filename string) bool {
	ext := strings.ToLower(path.Ext(filename))
	if contentType != "" {
		if _, ok := AllowedTemplateTypes[strings.ToLower(contentType)]; ok {
			return true
		}
	}
	if ext != "" {
		if _, ok := AllowedTemplateExtensions[ext]; ok {
			return true
		}
	}
	return false
}

// TemplateKey returns the S3 object key: templates/{event_id}/{filename}.
func TemplateKey(eventID, filename string) string {
	return path.Join(FolderTemplates, eventID, path.Base(filename))
}

// TicketKey returns the S3 object key: tickets/{event_id}/{registration_id}.png.
func TicketKey(eventID, registrationID string) string {
	return path.Join(FolderTickets, eventID, registrationID+".png")
}

// Bucket returns the tickets bucket name.
func (s *S3) Bucket() string { return s.cfg.TicketsBucket }

// PresignExpire returns the configured presign duration.
func (s *S3) PresignExpire() time.Duration {
	if s.cfg.PresignExpireMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(s.cfg.PresignExpireMinutes) * time.Minute
}

// Upload streams a reader to S3 and returns the object URL.
func (s *S3) Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error) {
	var contentLengthPtr *int64
	if contentLength > 0 {
		contentLengthPtr = &contentLength
	}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.TicketsBucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: contentLengthPtr,
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.TicketsBucket, s.cfg.Region, key), nil
}

// GeneratePresignedDownloadURL returns a pre-signed GET URL for download.
func (s *S3) GeneratePresignedDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.TicketsBucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}

// DeleteObject removes an object from the tickets bucket.
func (s *S3) DeleteObject(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.TicketsBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// GetObjectStream returns the object body and content type for streaming.
// Caller must close the body.
func (s *S3) GetObjectStream(ctx context.Context, key string) (body io.ReadCloser, contentType string, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.TicketsBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", err
	}
	ct := ""
	if out.ContentType != nil {
		ct = *out.ContentType
	}
	return out.Body, ct, nil
}

// internal/services/storage_service.go
package services

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chanvault/chanvault-backend/internal/config"
)

// StorageService keeps deal evidence in S3: screenshots and exports sellers
// attach when granting agent access. Evidence objects are always private;
// parties view them through short-lived presigned URLs.
type StorageService struct {
	s3Client *s3.S3
	config   *config.Config
}

type EvidenceUpload struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

const (
	evidenceMaxSize   = 10 * 1024 * 1024 // 10MB
	evidenceURLExpiry = 15 * time.Minute
	evidenceKeyPrefix = "deal-evidence"
)

var evidenceAllowedTypes = []string{".jpg", ".jpeg", ".png", ".pdf"}

func NewStorageService(config *config.Config) *StorageService {
	if config.AWS.AccessKeyID == "" {
		// No S3 in local development; uploads are rejected at call time.
		return &StorageService{config: config}
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(config.AWS.Region),
		Credentials: credentials.NewStaticCredentials(
			config.AWS.AccessKeyID,
			config.AWS.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		logrus.WithError(err).Warn("Object storage unavailable, evidence uploads disabled")
		return &StorageService{config: config}
	}

	return &StorageService{
		s3Client: s3.New(sess),
		config:   config,
	}
}

// Configured reports whether an object store is wired up.
func (s *StorageService) Configured() bool {
	return s.s3Client != nil
}

// UploadEvidence stores an access-evidence file under the deal's prefix and
// returns its object key.
func (s *StorageService) UploadEvidence(dealID uuid.UUID, file multipart.File, header *multipart.FileHeader) (*EvidenceUpload, error) {
	if s.s3Client == nil {
		return nil, fmt.Errorf("object storage not configured")
	}

	if header.Size > evidenceMaxSize {
		return nil, fmt.Errorf("file size %d bytes exceeds maximum allowed size %d bytes", header.Size, evidenceMaxSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := false
	for _, t := range evidenceAllowedTypes {
		if ext == t {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("file type %s is not allowed", ext)
	}

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	key := s.evidenceKey(dealID, ext)
	contentType := header.Header.Get("Content-Type")

	_, err = s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:        aws.String(s.config.AWS.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(fileBytes),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(fileBytes))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &EvidenceUpload{
		Key:      key,
		Size:     int64(len(fileBytes)),
		MimeType: contentType,
	}, nil
}

// EvidenceURL returns a short-lived presigned URL for viewing an evidence
// object.
func (s *StorageService) EvidenceURL(key string) (string, error) {
	if s.s3Client == nil {
		return "", fmt.Errorf("object storage not configured")
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(evidenceURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url, nil
}

// DeleteEvidence removes an evidence object, used by admin data correction.
func (s *StorageService) DeleteEvidence(key string) error {
	if s.s3Client == nil {
		return nil
	}

	_, err := s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.config.AWS.S3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}
	return nil
}

func (s *StorageService) evidenceKey(dealID uuid.UUID, ext string) string {
	stamp := time.Now().Format("20060102")
	return fmt.Sprintf("%s/%s/%s_%s%s", evidenceKeyPrefix, dealID, stamp, uuid.New().String()[:8], ext)
}

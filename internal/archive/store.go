package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Nabil201-ctrl/Healify-sub000/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store exports archived session transcripts to S3.
type Store struct {
	bucket string
	client S3API
	logger *logging.Logger
}

// NewStore creates a Store. With an empty bucket every export is a no-op.
func NewStore(client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, client: client, logger: logger}
}

// Enabled reports whether exports are configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

// TranscriptKey is the object key for a transcript archived at the given time.
func TranscriptKey(sessionID string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("transcripts/v1/by-date/%d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), sessionID)
}

func manifestKey(at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("transcripts/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())
}

// Export writes the transcript and appends it to the monthly manifest.
// Re-exporting a session overwrites the same object.
func (s *Store) Export(ctx context.Context, t *Transcript) error {
	if !s.Enabled() || t == nil {
		return nil
	}
	at := t.ArchivedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("archive: marshal transcript: %w", err)
	}
	key := TranscriptKey(t.SessionID, at)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("transcript exported", "session_id", t.SessionID, "s3_key", key, "message_count", t.MessageCount)

	entry := ManifestEntry{
		SessionID:         t.SessionID,
		S3Key:             key,
		FinalStatus:       t.FinalStatus,
		NeedsDoctorReview: t.NeedsDoctorReview,
		ArchivedAt:        at.Format(time.RFC3339),
		MessageCount:      t.MessageCount,
	}
	if err := s.appendManifest(ctx, entry, at); err != nil {
		s.logger.Warn("manifest append failed", "session_id", t.SessionID, "error", err)
	}
	return nil
}

// appendManifest does a read-modify-write of the month's JSONL manifest.
func (s *Store) appendManifest(ctx context.Context, entry ManifestEntry, at time.Time) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}
	key := manifestKey(at)

	var existing []byte
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
	default:
		return fmt.Errorf("archive: get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}

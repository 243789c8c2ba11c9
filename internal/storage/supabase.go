// Package storage is the blob collaborator holding audio payloads. The core
// keeps only object keys; blob lifetime belongs to this collaborator, and
// audio for a session is retained until well after completion so turns can
// be replayed for review.
package storage

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	supabase "github.com/supabase-community/supabase-go"
)

// BlobStore stores and retrieves audio payloads by key.
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, body []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// Supabase implements BlobStore over Supabase's storage API.
type Supabase struct {
	client *supabase.Client
	bucket string
}

// NewSupabase constructs the storage client for a bucket.
func NewSupabase(url, serviceKey, bucket string) (*Supabase, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "create supabase client")
	}
	return &Supabase{client: client, bucket: bucket}, nil
}

func (s *Supabase) Upload(_ context.Context, key, contentType string, body []byte) error {
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "upload %s to supabase", key)
	}
	return nil
}

func (s *Supabase) Download(_ context.Context, key string) ([]byte, error) {
	data, err := s.client.Storage.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, errors.Wrapf(err, "download %s from supabase", key)
	}
	return data, nil
}

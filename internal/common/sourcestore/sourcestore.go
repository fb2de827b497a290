// Package sourcestore archives submission source code in object storage.
// Sources are zstd-compressed and addressed by submission id; a sha256 of
// the raw source travels with the judge job so the worker can verify it
// fetched the bytes the user actually submitted.
package sourcestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/klauspost/compress/zstd"

	"techfolks/internal/common/storage"
	appErr "techfolks/pkg/errors"
)

type Store struct {
	storage storage.ObjectStorage
	bucket  string

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func New(st storage.ObjectStorage, bucket string) (*Store, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Store{storage: st, bucket: bucket, enc: enc, dec: dec}, nil
}

func objectKey(submissionID string) string {
	return "sources/" + submissionID + ".zst"
}

// Upload compresses and stores the source, returning the object key and
// the sha256 hex digest of the uncompressed source.
func (s *Store) Upload(ctx context.Context, submissionID, source string) (key, hash string, err error) {
	sum := sha256.Sum256([]byte(source))
	hash = hex.EncodeToString(sum[:])
	key = objectKey(submissionID)

	compressed := s.enc.EncodeAll([]byte(source), nil)
	err = s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(compressed),
		int64(len(compressed)), "application/zstd")
	if err != nil {
		return "", "", appErr.Wrapf(err, appErr.StorageError, "upload source archive")
	}
	return key, hash, nil
}

// Download fetches, decompresses and hash-verifies an archived source.
func (s *Store) Download(ctx context.Context, key, wantHash string) (string, error) {
	rc, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "fetch source archive")
	}
	defer rc.Close()

	compressed, err := io.ReadAll(rc)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source archive")
	}
	raw, err := s.dec.DecodeAll(compressed, nil)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "decompress source archive")
	}

	if wantHash != "" {
		sum := sha256.Sum256(raw)
		if hex.EncodeToString(sum[:]) != wantHash {
			return "", appErr.New(appErr.StorageError).WithMessage("source archive hash mismatch")
		}
	}
	return string(raw), nil
}

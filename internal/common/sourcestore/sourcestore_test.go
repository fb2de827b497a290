package sourcestore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"techfolks/internal/common/storage"
	appErr "techfolks/pkg/errors"
)

type memStorage struct {
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (m *memStorage) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, appErr.New(appErr.StorageError).WithMessage("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStorage) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, appErr.New(appErr.StorageError).WithMessage("object not found")
	}
	return storage.ObjectStat{SizeBytes: int64(len(data))}, nil
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	t.Parallel()

	st, err := New(newMemStorage(), "submissions")
	if err != nil {
		t.Fatal(err)
	}

	source := "#include <iostream>\nint main() { std::cout << 42; }\n" + strings.Repeat("// pad\n", 100)
	key, hash, err := st.Upload(context.Background(), "sub-1", source)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if key == "" || hash == "" {
		t.Fatal("empty key or hash")
	}

	got, err := st.Download(context.Background(), key, hash)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if got != source {
		t.Error("downloaded source differs from uploaded source")
	}
}

func TestDownloadHashMismatch(t *testing.T) {
	t.Parallel()

	st, err := New(newMemStorage(), "submissions")
	if err != nil {
		t.Fatal(err)
	}

	key, _, err := st.Upload(context.Background(), "sub-2", "print(1)")
	if err != nil {
		t.Fatal(err)
	}

	_, err = st.Download(context.Background(), key, strings.Repeat("0", 64))
	if err == nil {
		t.Fatal("expected hash mismatch error")
	}
	if appErr.GetCode(err) != appErr.StorageError {
		t.Errorf("code = %d, want StorageError", appErr.GetCode(err))
	}
}

func TestDownloadMissingObject(t *testing.T) {
	t.Parallel()

	st, err := New(newMemStorage(), "submissions")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Download(context.Background(), "sources/nope.zst", ""); err == nil {
		t.Fatal("expected error for missing object")
	}
}

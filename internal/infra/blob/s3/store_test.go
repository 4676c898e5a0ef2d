package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"fieldcore/internal/blob/core"
)

func TestMockStorePutGetDelete(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()

	if _, err := s.Put(ctx, "2024/05/01/k/frame.png", strings.NewReader("pixels"), core.PutOptions{ContentType: "image/png"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "2024/05/01/k/frame.png", strings.NewReader("other"), core.PutOptions{}); err == nil {
		t.Fatalf("create-only emulation must reject the second put")
	}

	info, body, err := s.Get(ctx, "2024/05/01/k/frame.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("content mismatch: %q", data)
	}
	if info.Size != int64(len("pixels")) {
		t.Fatalf("unexpected size %d", info.Size)
	}

	if _, err := s.Delete(ctx, "2024/05/01/k/frame.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Head(ctx, "2024/05/01/k/frame.png"); err == nil {
		t.Fatalf("head after delete must fail")
	}
}

func TestMockStoreListByPrefix(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	for _, key := range []string{"a/1", "a/2", "b/1"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := s.List(ctx, "a/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a/1" || infos[1].Key != "a/2" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
}

func TestPresignProducesURL(t *testing.T) {
	s := NewMockForTests()
	ctx := context.Background()
	if _, err := s.Put(ctx, "k", strings.NewReader("x"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	url, err := s.PresignURL(ctx, "k", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "mock-bucket") || !strings.Contains(url, "X-Amz-") {
		t.Fatalf("expected a signed s3 url, got %q", url)
	}
	if _, err := s.PresignURL(ctx, "k", core.SignedURLOptions{Method: "DELETE"}); err != core.ErrUnsupported {
		t.Fatalf("expected ErrUnsupported for non-GET, got %v", err)
	}
}

func TestOpenFromEnvRequiresBucket(t *testing.T) {
	t.Setenv("FIELDCORE_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected error without bucket")
	}
}

package memory

import (
	"context"
	"strings"
	"testing"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "ads/1/banner.png", "image/png", strings.NewReader("png"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://ads/1/banner.png" {
		t.Fatalf("unexpected uri %q", uri)
	}
	data, mime, ok := store.Object("ads/1/banner.png")
	if !ok || string(data) != "png" || mime != "image/png" {
		t.Fatalf("unexpected object %q %q %v", data, mime, ok)
	}
}

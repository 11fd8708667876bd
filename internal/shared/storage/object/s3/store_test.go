package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"audiobrand-backend/internal/shared/storage/object"
)

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "user/file.pdf", want: "user/file.pdf"},
		{name: "simple prefix", prefix: "root", key: "user/file.pdf", want: "root/user/file.pdf"},
		{name: "prefix trailing slash", prefix: "root/", key: "user/file.pdf", want: "root/user/file.pdf"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/user/file.pdf", want: "root/user/file.pdf"},
		{name: "nested prefix", prefix: "root/sub", key: "user/file.pdf", want: "root/sub/user/file.pdf"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

type fakeS3 struct {
	puts     map[string][]byte
	putTypes map[string]string
	sse      map[string]s3types.ServerSideEncryption
	headErr  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		puts:     map[string][]byte{},
		putTypes: map[string]string{},
		sse:      map[string]s3types.ServerSideEncryption{},
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.puts[key] = data
	f.putTypes[key] = aws.ToString(in.ContentType)
	f.sse[key] = in.ServerSideEncryption
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.puts[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.puts[aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestPutAppliesPrefixAndEncryption(t *testing.T) {
	fake := newFakeS3()
	store := &Store{client: fake, bucket: "audiobranding-files", prefix: "prod", kmsKeyID: "kms-1"}

	n, err := store.Put(context.Background(), "projects/p1/artifacts/a1/audio-1.mp3", strings.NewReader("mp3!"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 bytes, got %d", n)
	}
	key := "prod/projects/p1/artifacts/a1/audio-1.mp3"
	if string(fake.puts[key]) != "mp3!" {
		t.Fatalf("object not stored under prefixed key: %v", fake.puts)
	}
	if fake.putTypes[key] != "audio/mpeg" {
		t.Fatalf("unexpected content type %q", fake.putTypes[key])
	}
	if fake.sse[key] != s3types.ServerSideEncryptionAwsKms {
		t.Fatalf("expected kms encryption, got %q", fake.sse[key])
	}
}

func TestExistsAndOpenNotFound(t *testing.T) {
	fake := newFakeS3()
	store := &Store{client: fake, bucket: "b"}
	ctx := context.Background()

	ok, err := store.Exists(ctx, "missing.pdf")
	if err != nil || ok {
		t.Fatalf("expected missing, got ok=%v err=%v", ok, err)
	}
	if _, err := store.Open(ctx, "missing.pdf"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := store.Put(ctx, "report.pdf", strings.NewReader("%PDF"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = store.Exists(ctx, "report.pdf")
	if err != nil || !ok {
		t.Fatalf("expected object, got ok=%v err=%v", ok, err)
	}

	fake.headErr = errors.New("access denied")
	if _, err := store.Exists(ctx, "report.pdf"); err == nil {
		t.Fatalf("expected head error to surface")
	}
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/logflow/bxes/pkg/codec"
	"github.com/logflow/bxes/pkg/testing/generators"
)

type object struct {
	data []byte
	meta map[string]string
}

// memAPI is an in-memory bucket.
type memAPI struct {
	objects  map[string]object
	pageSize int
}

func newMemAPI() *memAPI { return &memAPI{objects: map[string]object{}, pageSize: 2} }

var errNoSuchKey = errors.New("NoSuchKey")

func (m *memAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = object{data: data, meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (m *memAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	o, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.data))}, nil
}

func (m *memAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	o, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(o.data))), Metadata: o.meta}, nil
}

func (m *memAPI) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memAPI) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		fmt.Sscanf(*in.ContinuationToken, "%d", &start)
	}
	end := min(start+m.pageSize, len(keys))

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(m.objects[k].data)))})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprint(end))
	}
	return out, nil
}

func TestPushPull_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewWithAPI(DefaultConfig("logs", "us-east-1"), newMemAPI())

	gen := generators.NewLogGenerator(5)
	gen.AllTypes = true
	log := gen.Generate(3)

	if err := c.PushLog(ctx, "o2c/log.bxes", log, nil); err != nil {
		t.Fatalf("PushLog() error: %v", err)
	}

	res, err := c.PullLog(ctx, "o2c/log.bxes")
	if err != nil {
		t.Fatalf("PullLog() error: %v", err)
	}
	if !res.Log.Equal(log) {
		t.Error("pulled log differs from pushed log")
	}

	info, err := c.Stat(ctx, "o2c/log.bxes")
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Version != 3 || info.Variants != len(log.Variants) {
		t.Errorf("Stat() = version %d, variants %d", info.Version, info.Variants)
	}
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	api := newMemAPI()
	c := NewWithAPI(DefaultConfig("logs", ""), api)
	dir := t.TempDir()

	log := generators.NewLogGenerator(9).Generate(1)
	src := filepath.Join(dir, "src.bxes")
	if err := codec.WriteSingleFile(src, log, nil); err != nil {
		t.Fatalf("WriteSingleFile() error: %v", err)
	}

	if err := c.Upload(ctx, src, "a.bxes"); err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if api.objects["a.bxes"].meta[MetaVersion] != "1" {
		t.Errorf("version metadata = %q", api.objects["a.bxes"].meta[MetaVersion])
	}

	dst := filepath.Join(dir, "dst.bxes")
	if err := c.Download(ctx, "a.bxes", dst); err != nil {
		t.Fatalf("Download() error: %v", err)
	}
	res, err := codec.ReadSingleFile(dst)
	if err != nil {
		t.Fatalf("ReadSingleFile() error: %v", err)
	}
	if !res.Log.Equal(log) {
		t.Error("downloaded log differs")
	}
}

func TestUpload_RejectsInvalidArchive(t *testing.T) {
	api := newMemAPI()
	c := NewWithAPI(DefaultConfig("logs", ""), api)

	path := filepath.Join(t.TempDir(), "junk.bxes")
	if err := codec.WriteArchiveFile(path, []byte{1, 0}); err != nil {
		t.Fatalf("WriteArchiveFile() error: %v", err)
	}
	if err := c.Upload(context.Background(), path, "junk.bxes"); err == nil {
		t.Fatal("expected invalid archive to be rejected")
	}
	if len(api.objects) != 0 {
		t.Error("nothing should have been uploaded")
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	c := NewWithAPI(DefaultConfig("logs", ""), newMemAPI())
	log := generators.NewLogGenerator(1).Generate(1)

	for _, key := range []string{"a/1.bxes", "a/2.bxes", "a/3.bxes", "b/1.bxes"} {
		if err := c.PushLog(ctx, key, log, nil); err != nil {
			t.Fatalf("PushLog(%s) error: %v", key, err)
		}
	}

	objs, err := c.List(ctx, "a/")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("List() returned %d objects, want 3", len(objs))
	}

	if err := c.Delete(ctx, "a/2.bxes"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := c.PullLog(ctx, "a/2.bxes"); !errors.Is(err, errNoSuchKey) {
		t.Errorf("expected missing key error, got %v", err)
	}
}

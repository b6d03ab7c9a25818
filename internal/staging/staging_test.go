package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/shaiso/rpd-pipelines/internal/domain"
)

type fakePutter struct {
	mu   sync.Mutex
	keys []string
	fail string
}

func (f *fakePutter) FPutObject(_ context.Context, bucket, object, filePath string, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if filepath.Base(filePath) == f.fail {
		return minio.UploadInfo{}, errors.New("access denied")
	}

	st, err := os.Stat(filePath)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.mu.Lock()
	f.keys = append(f.keys, object)
	f.mu.Unlock()
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: st.Size()}, nil
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestUploader_Upload(t *testing.T) {
	basedir := t.TempDir()
	dir := domain.OutputDir{
		Basedir:         basedir,
		User:            "alice",
		PipelineVersion: "v1",
		PipelineName:    "variant-calling",
		Timestamp:       "2026-10-18T10-00-00.000000",
	}.Path()

	writeTree(t, dir, map[string]string{
		domain.CompletionFlagFile: "",
		domain.PipelineConfigFile: "threads: 4\n",
		"out/S1.vcf.gz":           "vcf",
		domain.MasterLogRel:       "log line\n",
		domain.StagedFlagFile:     "2026-10-18T10:00:00Z\n",
		".STAGED_OUT.123":         "tmp",
	})

	putter := &fakePutter{}
	u := NewUploader(putter, Config{Bucket: "rpd", Prefix: "/downstream/"}, basedir, nil)

	res, err := u.Upload(context.Background(), dir)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	root := "downstream/alice/v1/variant-calling/2026-10-18T10-00-00.000000/"
	want := []string{
		root + domain.CompletionFlagFile,
		root + domain.PipelineConfigFile,
		root + "logs/snakemake.log",
		root + "out/S1.vcf.gz",
	}
	got := slices.Clone(putter.keys)
	slices.Sort(got)
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Errorf("keys =\n%v\nwant\n%v", got, want)
	}
	if res.Objects != 4 {
		t.Errorf("objects = %d, want 4", res.Objects)
	}
	if res.Bytes != int64(len("threads: 4\n")+len("vcf")+len("log line\n")) {
		t.Errorf("bytes = %d", res.Bytes)
	}
}

func TestUploader_OutsideBasedir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "adhoc-run")
	writeTree(t, dir, map[string]string{"a.txt": "a"})

	putter := &fakePutter{}
	u := NewUploader(putter, Config{Bucket: "rpd"}, "/elsewhere", nil)

	if _, err := u.Upload(context.Background(), dir); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !slices.Equal(putter.keys, []string{"adhoc-run/a.txt"}) {
		t.Errorf("keys = %v", putter.keys)
	}
}

func TestUploader_Failure(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.txt": "a", "b.txt": "b"})

	u := NewUploader(&fakePutter{fail: "b.txt"}, Config{Bucket: "rpd"}, "", nil)
	if _, err := u.Upload(context.Background(), dir); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "rpd"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"scheme", func(c *Config) { c.Endpoint = "http://localhost:9000" }},
		{"no endpoint", func(c *Config) { c.Endpoint = "" }},
		{"no keys", func(c *Config) { c.SecretKey = "" }},
		{"no bucket", func(c *Config) { c.Bucket = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestUploader_StageOutRequiresCompletion(t *testing.T) {
	basedir := t.TempDir()
	dir := filepath.Join(basedir, "alice", "v1", "variant-calling", "2026-10-18T10-00-00.000000")
	writeTree(t, dir, map[string]string{"out/result.vcf": "data"})

	putter := &fakePutter{}
	u := NewUploader(putter, Config{Bucket: "rpd"}, basedir, nil)

	if _, err := u.StageOut(context.Background(), dir); !errors.Is(err, ErrNotComplete) {
		t.Fatalf("err = %v, want ErrNotComplete", err)
	}
	if len(putter.keys) != 0 {
		t.Fatalf("uploaded %v from incomplete run", putter.keys)
	}

	writeTree(t, dir, map[string]string{domain.CompletionFlagFile: ""})
	res, err := u.StageOut(context.Background(), dir)
	if err != nil {
		t.Fatalf("StageOut: %v", err)
	}
	if res.Objects != 2 {
		t.Errorf("objects = %d, want 2", res.Objects)
	}
}

package staging

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shaiso/rpd-pipelines/internal/domain"
)

// NewClient создаёт клиент MinIO.
func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// EnsureBucket создаёт бакет, если его нет.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// objectPutter — часть minio.Client, нужная Uploader'у.
type objectPutter interface {
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Result — итог выгрузки директории.
type Result struct {
	Objects int
	Bytes   int64
}

// Uploader выгружает файлы директории run'а.
type Uploader struct {
	client  objectPutter
	bucket  string
	prefix  string
	basedir string
	logger  *slog.Logger
}

// NewUploader создаёт Uploader. basedir — корень выходных директорий:
// ключи объектов повторяют путь run'а относительно него.
func NewUploader(client objectPutter, cfg Config, basedir string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		basedir: basedir,
		logger:  logger,
	}
}

// StageOut проверяет, что run завершён, и выгружает директорию.
func (u *Uploader) StageOut(ctx context.Context, dir string) (*Result, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, domain.CompletionFlagFile)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotComplete, dir)
	}
	return u.Upload(ctx, dir)
}

// Upload выгружает все обычные файлы dir. Маркер STAGED_OUT и его
// временные файлы не выгружаются.
func (u *Uploader) Upload(ctx context.Context, dir string) (*Result, error) {
	root := u.rootKey(dir)
	res := &Result{}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || isStagedMarker(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(root, filepath.ToSlash(rel))

		info, err := u.client.FPutObject(ctx, u.bucket, key, p, minio.PutObjectOptions{
			ContentType: contentType(p),
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", p, err)
		}

		u.logger.Debug("uploaded object", "bucket", u.bucket, "key", key, "size", info.Size)
		res.Objects++
		res.Bytes += info.Size
		return nil
	})
	if err != nil {
		return res, err
	}

	u.logger.Info("staged out directory",
		"dir", dir,
		"bucket", u.bucket,
		"prefix", root,
		"objects", res.Objects,
		"bytes", res.Bytes,
	)
	return res, nil
}

// rootKey возвращает префикс ключей для директории run'а:
// user/version/name/timestamp, если dir соответствует шаблону,
// иначе имя директории.
func (u *Uploader) rootKey(dir string) string {
	var rel string
	if od, err := domain.ParseOutputDir(u.basedir, dir); err == nil {
		rel = path.Join(od.User, od.PipelineVersion, od.PipelineName, od.Timestamp)
	} else {
		rel = filepath.Base(dir)
	}
	if u.prefix == "" {
		return rel
	}
	return path.Join(u.prefix, rel)
}

func isStagedMarker(name string) bool {
	return name == domain.StagedFlagFile || strings.HasPrefix(name, "."+domain.StagedFlagFile+".")
}

func contentType(p string) string {
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".yaml", ".yml":
		return "application/x-yaml"
	case ".log":
		return "text/plain"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

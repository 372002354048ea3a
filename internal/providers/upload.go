package providers

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

// Uploader places pipeline files where providers can download them and
// returns the files with their URL set.
type Uploader interface {
	Upload(ctx context.Context, dest Destination, files []pipeline.FileRef) ([]pipeline.FileRef, error)
}

// Destination identifies the pipeline being uploaded and the provider host
// of its language.
type Destination struct {
	PipelineID int64
	Host       string
}

// UploadRunner runs the upload stage through an Uploader.
type UploadRunner struct {
	Uploader Uploader
	Logger   *slog.Logger
}

// Run implements pipeline.Runner.
func (r UploadRunner) Run(ctx context.Context, req pipeline.RunRequest) pipeline.Outcome {
	if len(req.Inputs) == 0 {
		return pipeline.Outcome{Err: missingInput("upload"), Protocol: "ERROR: nothing to upload"}
	}
	logger := logging.WithContext(ctx, logging.NewComponentLogger(r.Logger, "upload"))
	logger.Info("uploading files", logging.Int("files", len(req.Inputs)))

	results, err := r.Uploader.Upload(ctx, Destination{PipelineID: req.PipelineID, Host: req.Language.Host}, req.Inputs)
	if err != nil {
		return pipeline.Outcome{Err: err, Protocol: err.Error()}
	}
	return pipeline.Outcome{Results: results}
}

func openFile(f pipeline.FileRef) (io.ReadCloser, int64, error) {
	if f.Path != "" {
		fh, err := os.Open(f.Path)
		if err != nil {
			return nil, 0, services.Wrap(services.ErrValidation, "upload", "open", f.FullName, err)
		}
		info, err := fh.Stat()
		if err != nil {
			fh.Close()
			return nil, 0, err
		}
		return fh, info.Size(), nil
	}
	if f.Content != "" {
		return io.NopCloser(strings.NewReader(f.Content)), int64(len(f.Content)), nil
	}
	return nil, 0, services.Wrap(services.ErrValidation, "upload", "open",
		fmt.Sprintf("%s has no local copy", f.FullName), nil)
}

func uploaded(f pipeline.FileRef, rawURL string, now time.Time) pipeline.FileRef {
	out := f.Clone()
	out.URL = rawURL
	out.Online = true
	out.CreatedAt = now.UnixMilli()
	if out.IsWAV() {
		out.Content = ""
	}
	return out
}

// UploadFileMultiResponse is the XML answer of uploadFileMulti.
type UploadFileMultiResponse struct {
	XMLName xml.Name `xml:"UploadFileMultiResponse"`
	Success string   `xml:"success"`
	Output  string   `xml:"output"`
	Entries []struct {
		Key   string `xml:"key"`
		Value string `xml:"value"`
	} `xml:"fileList>entry"`
}

// ProviderUploader posts files to <host>uploadFileMulti. Host overrides the
// language host when set.
type ProviderUploader struct {
	Client *BASClient
	Host   string
}

// Upload implements Uploader.
func (u ProviderUploader) Upload(ctx context.Context, dest Destination, files []pipeline.FileRef) ([]pipeline.FileRef, error) {
	host := u.Host
	if host == "" {
		host = dest.Host
	}
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	for i, f := range files {
		src, _, err := openFile(f)
		if err != nil {
			return nil, err
		}
		part, err := form.CreateFormFile(fmt.Sprintf("file%d", i), f.FullName)
		if err != nil {
			src.Close()
			return nil, err
		}
		_, err = io.Copy(part, src)
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer %s: %w", f.FullName, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"uploadFileMulti", &body)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "upload", "build request", host, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	data, err := u.Client.send(req)
	if err != nil {
		return nil, err
	}

	var parsed UploadFileMultiResponse
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, services.Wrap(services.ErrProvider, "upload", "decode response", "", err)
	}
	if !strings.EqualFold(strings.TrimSpace(parsed.Success), "true") {
		return nil, services.Wrap(services.ErrProvider, "upload", "uploadFileMulti", strings.TrimSpace(parsed.Output), nil)
	}
	urls := make(map[string]string, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		urls[entry.Key] = strings.TrimSpace(entry.Value)
	}

	now := u.Client.now()
	results := make([]pipeline.FileRef, 0, len(files))
	for i, f := range files {
		link := urls[fmt.Sprintf("file%d", i)]
		if link == "" {
			return nil, services.Wrap(services.ErrProvider, "upload", "uploadFileMulti",
				fmt.Sprintf("no URL returned for %s", f.FullName), nil)
		}
		results = append(results, uploaded(f, link, now))
	}
	return results, nil
}

// S3Uploader stores files in an S3-compatible bucket and hands providers a
// presigned GET URL.
type S3Uploader struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	now    func() time.Time
}

// S3Options configures NewS3Uploader.
type S3Options struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Expiry    time.Duration
}

// NewS3Uploader connects to the bucket and creates it if missing.
func NewS3Uploader(ctx context.Context, opts S3Options) (*S3Uploader, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "upload", "s3 client", opts.Endpoint, err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "upload", "s3 bucket", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, services.Wrap(services.ErrProvider, "upload", "s3 make bucket", opts.Bucket, err)
		}
	}
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &S3Uploader{client: client, bucket: opts.Bucket, expiry: expiry, now: time.Now}, nil
}

// ObjectName is the key a pipeline file is stored under.
func ObjectName(pipelineID int64, fullname string) string {
	return fmt.Sprintf("pipelines/%d/%s", pipelineID, pipeline.EscapeFileName(fullname))
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, dest Destination, files []pipeline.FileRef) ([]pipeline.FileRef, error) {
	now := u.now()
	results := make([]pipeline.FileRef, 0, len(files))
	for _, f := range files {
		src, size, err := openFile(f)
		if err != nil {
			return nil, err
		}
		object := ObjectName(dest.PipelineID, f.FullName)
		_, err = u.client.PutObject(ctx, u.bucket, object, src, size, minio.PutObjectOptions{ContentType: f.Type})
		src.Close()
		if err != nil {
			return nil, services.Wrap(services.ErrProvider, "upload", "s3 put", object, err)
		}
		link, err := u.client.PresignedGetObject(ctx, u.bucket, object, u.expiry, nil)
		if err != nil {
			return nil, services.Wrap(services.ErrProvider, "upload", "s3 presign", object, err)
		}
		results = append(results, uploaded(f, link.String(), now))
	}
	return results, nil
}

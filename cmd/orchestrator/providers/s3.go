package providers

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/lyzr/appforge/common/models"
)

// errNoPolling is returned by Poll on providers that finish on submit
var errNoPolling = errors.New("deployment completes on submit")

// Uploader is the subset of manager.Uploader used by the S3 provider
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 publishes files to a static-website bucket; the URL is known on submit
type S3 struct {
	bucket   string
	region   string
	prefix   string
	uploader Uploader
}

// NewS3 builds an uploader from the default AWS chain, overridden by static keys when given.
// An empty bucket yields an unconfigured provider.
func NewS3(ctx context.Context, bucket, region, prefix, accessKeyID, secretAccessKey string) (*S3, error) {
	p := &S3{bucket: bucket, region: region, prefix: strings.Trim(prefix, "/")}
	if bucket == "" {
		return p, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	p.uploader = manager.NewUploader(s3.NewFromConfig(cfg))
	return p, nil
}

// NewS3WithUploader creates an S3 provider around an existing uploader
func NewS3WithUploader(bucket, region, prefix string, uploader Uploader) *S3 {
	return &S3{bucket: bucket, region: region, prefix: strings.Trim(prefix, "/"), uploader: uploader}
}

func (p *S3) Name() string     { return "s3" }
func (p *S3) Configured() bool { return p.bucket != "" && p.uploader != nil }

func (p *S3) root(bundle Bundle) string {
	return path.Join(p.prefix, projectSlug(bundle.ProjectID), bundle.DeploymentID)
}

func (p *S3) Submit(ctx context.Context, bundle Bundle) (Handle, error) {
	root := p.root(bundle)
	entry := ""

	for _, f := range bundle.Files {
		key := path.Join(root, f.Path)
		_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        strings.NewReader(f.Content),
			ContentType: aws.String(contentType(f)),
		})
		if err != nil {
			return Handle{}, fmt.Errorf("upload %s: %w", f.Path, err)
		}
		if f.Path == "index.html" {
			entry = "index.html"
		}
	}

	u := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s/%s", p.bucket, p.region, root, entry)
	return Handle{URL: u}, nil
}

func (p *S3) Poll(ctx context.Context, jobRef string) (Status, error) {
	return Status{}, errNoPolling
}

// contentType picks the object content type from the extension, then the content
func contentType(f models.FileChange) string {
	if ct := mime.TypeByExtension(path.Ext(f.Path)); ct != "" {
		return ct
	}
	return mimetype.Detect([]byte(f.Content)).String()
}

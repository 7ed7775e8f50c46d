package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/ctilinker/pkg/store"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// CompleteMarker is written last when a source is committed. Only sources
// carrying it are completed.
const CompleteMarker = ".complete"

type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ClientParams configures the connection to an S3 compatible object store.
type ClientParams struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewClient creates an S3 client using path style addressing, which works
// with MinIO and other self-hosted stores.
func NewClient(ctx context.Context, params ClientParams) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	if params.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

type bucket struct {
	client objectAPI
	name   string
	prefix string
}

// Input reads sources stored as <prefix>/<source>/<file>.
type Input struct {
	bucket
}

// Output writes results to <prefix>/.partial/<source>/<file> and publishes
// them to <prefix>/<source>/<file> on Commit.
type Output struct {
	bucket
}

func NewInput(client objectAPI, bucketName, prefix string) *Input {
	return &Input{bucket{client: client, name: bucketName, prefix: strings.Trim(prefix, "/")}}
}

func NewOutput(client objectAPI, bucketName, prefix string) *Output {
	return &Output{bucket{client: client, name: bucketName, prefix: strings.Trim(prefix, "/")}}
}

func (in *Input) ListSources(ctx context.Context) ([]string, error) {
	return in.listSources(ctx)
}

func (in *Input) ListFiles(ctx context.Context, source string) ([]string, error) {
	return in.listRecords(ctx, in.key(source))
}

func (in *Input) Read(ctx context.Context, source, file string) ([]byte, error) {
	return in.get(ctx, in.key(source, file))
}

// CompletedSources returns the sources whose completion marker exists.
func (out *Output) CompletedSources(ctx context.Context) ([]string, error) {
	sources, err := out.listSources(ctx)
	if err != nil {
		return nil, err
	}
	var completed []string
	for _, source := range sources {
		ok, err := out.exists(ctx, out.key(source, CompleteMarker))
		if err != nil {
			return nil, err
		}
		if ok {
			completed = append(completed, source)
		}
	}
	return completed, nil
}

func (out *Output) HasPartial(ctx context.Context, source, file string) (bool, error) {
	return out.exists(ctx, out.key(store.PartialDir, source, file))
}

// WritePartial uploads data in a single PutObject, which S3 applies atomically.
func (out *Output) WritePartial(ctx context.Context, source, file string, data []byte) error {
	return out.put(ctx, out.key(store.PartialDir, source, file), data)
}

// Commit copies every partial result of source to its final key, writes the
// completion marker and removes the partial objects.
func (out *Output) Commit(ctx context.Context, source string) error {
	partialPrefix := out.key(store.PartialDir, source) + "/"
	keys, err := out.list(ctx, partialPrefix)
	if err != nil {
		return fmt.Errorf("commit %s: %w", source, err)
	}

	for _, key := range keys {
		rel := strings.TrimPrefix(key, partialPrefix)
		_, err := out.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(out.name),
			CopySource: aws.String(copySource(out.name, key)),
			Key:        aws.String(out.key(source, rel)),
		})
		if err != nil {
			return fmt.Errorf("commit %s: copy %s: %w", source, rel, err)
		}
	}

	if err := out.put(ctx, out.key(source, CompleteMarker), nil); err != nil {
		return fmt.Errorf("commit %s: write marker: %w", source, err)
	}

	return out.deleteKeys(ctx, keys)
}

func (out *Output) ListFiles(ctx context.Context, source string) ([]string, error) {
	return out.listRecords(ctx, out.key(source))
}

func (out *Output) Read(ctx context.Context, source, file string) ([]byte, error) {
	return out.get(ctx, out.key(source, file))
}

// key joins the prefix and parts with slashes.
func (b *bucket) key(parts ...string) string {
	all := make([]string, 0, len(parts)+1)
	if b.prefix != "" {
		all = append(all, b.prefix)
	}
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			all = append(all, p)
		}
	}
	return strings.Join(all, "/")
}

func (b *bucket) root() string {
	if b.prefix == "" {
		return ""
	}
	return b.prefix + "/"
}

func (b *bucket) listSources(ctx context.Context) ([]string, error) {
	listInput := &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.name),
		Prefix:    aws.String(b.root()),
		Delimiter: aws.String("/"),
	}

	var sources []string
	for {
		listOutput, err := b.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list sources in %s: %w", b.root(), err)
		}
		for _, p := range listOutput.CommonPrefixes {
			if p.Prefix == nil {
				continue
			}
			name := strings.TrimSuffix(strings.TrimPrefix(*p.Prefix, b.root()), "/")
			if name != "" && !strings.HasPrefix(name, ".") {
				sources = append(sources, name)
			}
		}
		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return store.SortedUnique(sources), nil
}

func (b *bucket) listRecords(ctx context.Context, dir string) ([]string, error) {
	prefix := dir + "/"
	keys, err := b.list(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		if store.IsRecordFile(rel) && !hasHiddenDir(rel) {
			files = append(files, rel)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (b *bucket) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := b.client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}

func (b *bucket) get(ctx context.Context, key string) ([]byte, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return buf.Bytes(), nil
}

func (b *bucket) put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return nil
}

func (b *bucket) exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

func (b *bucket) deleteKeys(ctx context.Context, keys []string) error {
	const maxBatch = 1000
	for start := 0; start < len(keys); start += maxBatch {
		end := min(start+maxBatch, len(keys))
		objects := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
		}
		_, err := b.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(b.name),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("failed to delete partial objects: %w", err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func hasHiddenDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if strings.HasPrefix(p, ".") {
			return true
		}
	}
	return false
}

func copySource(bucketName, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return bucketName + "/" + strings.Join(parts, "/")
}

package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pd-go/internal/pd"
)

// S3API is the subset of the S3 client used by S3FileManager.
type S3API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	s3.HeadObjectAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Cipher encrypts object bodies at rest.
type Cipher interface {
	Encrypt(r io.Reader, w io.Writer) error
	Decrypt(r io.Reader, w io.Writer) error
}

// S3Options configures the S3 client of S3 libraries.
type S3Options struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Timeout      time.Duration
}

// S3FileManager is a FileManager over a bucket and key prefix. Directories
// are key prefixes; CreateDirectory writes an empty "dir/" marker object so
// that empty directories survive.
type S3FileManager struct {
	spec     pd.FileManagerSpec
	prefix   string
	client   S3API
	uploader *manager.Uploader
	cipher   Cipher
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// DialS3 builds an S3 client from the default AWS configuration chain,
// overridden by opts.
func DialS3(ctx context.Context, spec pd.FileManagerSpec, opts S3Options, cipher Cipher) (*S3FileManager, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if spec.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(spec.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	m := NewS3FileManager(spec, client, cipher)
	if opts.Timeout > 0 {
		m.timeout = opts.Timeout
	}
	return m, nil
}

// NewS3FileManager wraps client. cipher may be nil; it is required when
// spec.Encrypted is set.
func NewS3FileManager(spec pd.FileManagerSpec, client S3API, cipher Cipher) *S3FileManager {
	spec.Type = pd.SpecS3
	spec.Prefix = strings.Trim(spec.Prefix, "/")
	if !spec.Encrypted {
		cipher = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &S3FileManager{
		spec:     spec,
		prefix:   spec.Prefix,
		client:   client,
		uploader: manager.NewUploader(client),
		cipher:   cipher,
		timeout:  time.Minute,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (m *S3FileManager) Name() string {
	if m.prefix == "" {
		return m.spec.Bucket
	}
	return path.Base(m.prefix)
}

func (m *S3FileManager) Description() string { return m.spec.String() }

func (m *S3FileManager) Spec() pd.FileManagerSpec { return m.spec }

func (m *S3FileManager) Removable() bool { return false }

// key maps a library-relative path to an object key. The root maps to "".
func (m *S3FileManager) key(p string) string {
	rel := strings.TrimPrefix(path.Clean("/"+p), "/")
	switch {
	case rel == "":
		return m.prefix
	case m.prefix == "":
		return rel
	default:
		return m.prefix + "/" + rel
	}
}

// dirKey is the listing prefix of the directory at p.
func (m *S3FileManager) dirKey(p string) string {
	k := m.key(p)
	if k == "" {
		return ""
	}
	return k + "/"
}

func (m *S3FileManager) call(op, p string) (context.Context, context.CancelFunc, error) {
	if m.ctx.Err() != nil {
		return nil, nil, pd.NewFileError(op, p, ErrClosed)
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
	return ctx, cancel, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (m *S3FileManager) fileError(op, p string, err error) error {
	if isNotFound(err) {
		return pd.NewFileError(op, p, fs.ErrNotExist)
	}
	return pd.NewFileError(op, p, err)
}

func (m *S3FileManager) Stat(p string) (fs.FileInfo, error) {
	ctx, cancel, err := m.call("stat", p)
	if err != nil {
		return nil, err
	}
	defer cancel()
	return m.stat(ctx, p)
}

func (m *S3FileManager) stat(ctx context.Context, p string) (fs.FileInfo, error) {
	name := path.Base("/" + p)
	if strings.Trim(p, "/") == "" {
		return &fileInfo{name: m.Name(), mode: fs.ModeDir | 0755}, nil
	}

	out, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.spec.Bucket),
		Key:    aws.String(m.key(p)),
	})
	if err == nil {
		return &fileInfo{
			name:    name,
			size:    aws.ToInt64(out.ContentLength),
			mode:    0644,
			modTime: aws.ToTime(out.LastModified),
		}, nil
	}
	if !isNotFound(err) {
		return nil, pd.NewFileError("stat", p, err)
	}

	list, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(m.spec.Bucket),
		Prefix:  aws.String(m.dirKey(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, pd.NewFileError("stat", p, err)
	}
	if len(list.Contents) == 0 {
		return nil, pd.NewFileError("stat", p, fs.ErrNotExist)
	}
	return &fileInfo{name: name, mode: fs.ModeDir | 0755}, nil
}

func (m *S3FileManager) FileExists(p string) bool {
	_, err := m.Stat(p)
	return err == nil
}

func (m *S3FileManager) ContentsOfFile(p string) ([]byte, error) {
	ctx, cancel, err := m.call("read", p)
	if err != nil {
		return nil, err
	}
	defer cancel()
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.spec.Bucket),
		Key:    aws.String(m.key(p)),
	})
	if err != nil {
		return nil, m.fileError("read", p, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if m.cipher != nil {
		err = m.cipher.Decrypt(out.Body, &buf)
	} else {
		_, err = io.Copy(&buf, out.Body)
	}
	if err != nil {
		return nil, pd.NewFileError("read", p, err)
	}
	return buf.Bytes(), nil
}

func (m *S3FileManager) ContentsOfDirectory(dir string) ([]fs.FileInfo, error) {
	ctx, cancel, err := m.call("list", dir)
	if err != nil {
		return nil, err
	}
	defer cancel()

	prefix := m.dirKey(dir)
	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(m.spec.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	var infos []fs.FileInfo
	found := strings.Trim(dir, "/") == ""
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pd.NewFileError("list", dir, err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name == "" {
				continue
			}
			infos = append(infos, &fileInfo{name: name, mode: fs.ModeDir | 0755})
		}
		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// directory marker
				continue
			}
			infos = append(infos, &fileInfo{
				name:    name,
				size:    aws.ToInt64(obj.Size),
				mode:    0644,
				modTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	if !found {
		return nil, pd.NewFileError("list", dir, fs.ErrNotExist)
	}
	return infos, nil
}

// WriteData uploads data. Single objects are replaced atomically by S3, so
// opts.Atomic needs no extra work.
func (m *S3FileManager) WriteData(p string, data []byte, opts pd.WriteOptions) error {
	ctx, cancel, err := m.call("write", p)
	if err != nil {
		return err
	}
	defer cancel()
	if strings.Trim(p, "/") == "" {
		return pd.NewFileError("write", p, fs.ErrInvalid)
	}
	if opts.NoOverwrite {
		if _, err := m.stat(ctx, p); err == nil {
			return pd.NewFileError("write", p, fs.ErrExist)
		}
	}
	return m.put(ctx, "write", p, m.key(p), data)
}

func (m *S3FileManager) put(ctx context.Context, op, p, key string, data []byte) error {
	body := data
	if m.cipher != nil && !strings.HasSuffix(key, "/") {
		var buf bytes.Buffer
		if err := m.cipher.Encrypt(bytes.NewReader(data), &buf); err != nil {
			return pd.NewFileError(op, p, fmt.Errorf("encrypting: %w", err))
		}
		body = buf.Bytes()
	}
	_, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.spec.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return pd.NewFileError(op, p, err)
	}
	return nil
}

func (m *S3FileManager) CreateDirectory(dir string) error {
	ctx, cancel, err := m.call("create directory", dir)
	if err != nil {
		return err
	}
	defer cancel()
	if strings.Trim(dir, "/") == "" {
		return nil
	}
	if info, err := m.stat(ctx, dir); err == nil {
		if info.IsDir() {
			return nil
		}
		return pd.NewFileError("create directory", dir, fmt.Errorf("not a directory"))
	}
	return m.put(ctx, "create directory", dir, m.dirKey(dir), nil)
}

// keysUnder returns the object at p, or every object below the directory p.
func (m *S3FileManager) keysUnder(ctx context.Context, p string) ([]string, bool, error) {
	if _, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.spec.Bucket),
		Key:    aws.String(m.key(p)),
	}); err == nil {
		return []string{m.key(p)}, false, nil
	} else if !isNotFound(err) {
		return nil, false, err
	}

	paginator := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.spec.Bucket),
		Prefix: aws.String(m.dirKey(p)),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, false, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, true, nil
}

// copySource escapes bucket/key for the x-amz-copy-source header.
func (m *S3FileManager) copySource(key string) string {
	parts := strings.Split(m.spec.Bucket+"/"+key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (m *S3FileManager) transfer(op, src, dst string, move bool) error {
	ctx, cancel, err := m.call(op, src)
	if err != nil {
		return err
	}
	defer cancel()
	if strings.Trim(src, "/") == "" || strings.Trim(dst, "/") == "" {
		return pd.NewFileError(op, src, fs.ErrInvalid)
	}
	if _, err := m.stat(ctx, dst); err == nil {
		return pd.NewFileError(op, dst, fs.ErrExist)
	}
	from, to := m.key(src), m.key(dst)
	if strings.HasPrefix(to, from+"/") {
		return pd.NewFileError(op, dst, fs.ErrInvalid)
	}

	keys, isDir, err := m.keysUnder(ctx, src)
	if err != nil {
		return m.fileError(op, src, err)
	}
	if len(keys) == 0 {
		return pd.NewFileError(op, src, fs.ErrNotExist)
	}

	var copied []string
	for _, k := range keys {
		target := to
		if isDir {
			target = to + strings.TrimPrefix(k, from)
		}
		_, err := m.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(m.spec.Bucket),
			Key:        aws.String(target),
			CopySource: aws.String(m.copySource(k)),
		})
		if err != nil {
			m.deleteKeys(ctx, copied)
			return m.fileError(op, src, err)
		}
		copied = append(copied, target)
	}
	if move {
		if err := m.deleteKeys(ctx, keys); err != nil {
			return pd.NewFileError(op, src, err)
		}
	}
	return nil
}

func (m *S3FileManager) deleteKeys(ctx context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.spec.Bucket),
			Key:    aws.String(k),
		})
		if err != nil && !isNotFound(err) {
			errs = append(errs, fmt.Errorf("deleting %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (m *S3FileManager) CopyItem(src, dst string) error {
	return m.transfer("copy", src, dst, false)
}

// MoveItem copies every object and then deletes the sources. It is not
// atomic for directories.
func (m *S3FileManager) MoveItem(src, dst string) error {
	return m.transfer("move", src, dst, true)
}

func (m *S3FileManager) RemoveItem(p string) error {
	ctx, cancel, err := m.call("remove", p)
	if err != nil {
		return err
	}
	defer cancel()
	if strings.Trim(p, "/") == "" {
		return pd.NewFileError("remove", p, fs.ErrPermission)
	}
	keys, _, err := m.keysUnder(ctx, p)
	if err != nil {
		return m.fileError("remove", p, err)
	}
	if err := m.deleteKeys(ctx, keys); err != nil {
		return pd.NewFileError("remove", p, err)
	}
	return nil
}

func (m *S3FileManager) FileURL(p string) string {
	u := &url.URL{Scheme: "s3", Host: m.spec.Bucket, Path: "/" + m.key(p)}
	return u.String()
}

// Unmount is not supported for buckets.
func (m *S3FileManager) Unmount() error {
	return fmt.Errorf("%s cannot be unmounted", m.Description())
}

func (m *S3FileManager) Invalidate() { m.cancel() }

// Compile-time check that S3FileManager implements pd.FileManager
var _ pd.FileManager = (*S3FileManager)(nil)

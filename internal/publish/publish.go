package publish

import (
	"bytes"
	"context"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/jetbuild/jetbuild/internal/errors"
	"github.com/jetbuild/jetbuild/internal/fingerprint"
	"github.com/jetbuild/jetbuild/pkg/assets"
)

// HashMetadataKey is the object metadata entry holding the content hash of
// an uploaded file.
const HashMetadataKey = "content-hash"

// Cache-Control values by object class.
const (
	CacheImmutable  = "public, max-age=31536000, immutable"
	CacheRevalidate = "public, max-age=0, must-revalidate"
)

// Client is the subset of *s3.Client the publisher uses.
type Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options configures a Publisher.
type Options struct {
	// Bucket is the destination bucket.
	Bucket string

	// Prefix is prepended to every key.
	Prefix string

	// Concurrency is the number of parallel uploads (default 4).
	Concurrency int

	// Algorithm hashes files for the skip check (default sha256).
	Algorithm fingerprint.Algorithm

	// Force uploads objects whose stored hash matches.
	Force bool

	// DryRun plans and compares without uploading.
	DryRun bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Object is one file to upload.
type Object struct {
	// Key is the destination key, including the prefix.
	Key string

	// Path is the file on disk.
	Path string

	ContentType  string
	CacheControl string

	// Phase orders uploads: every object of a phase is stored before the
	// next phase starts.
	Phase Phase
}

// Phase is an upload phase.
type Phase int

const (
	// PhaseImmutable holds fingerprinted files. Nothing references them
	// until the entry points are replaced.
	PhaseImmutable Phase = iota

	// PhaseMutable holds other files under a stable name.
	PhaseMutable

	// PhaseEntry holds HTML pages and the manifest, which reference
	// everything else.
	PhaseEntry
)

func (p Phase) String() string {
	switch p {
	case PhaseImmutable:
		return "immutable"
	case PhaseMutable:
		return "mutable"
	default:
		return "entry"
	}
}

// Report summarizes a publish.
type Report struct {
	Uploaded []string
	Skipped  []string
	Bytes    int64
}

// Publisher uploads a build output directory to S3.
type Publisher struct {
	client Client
	opts   Options
	logger *slog.Logger
}

// New creates a Publisher.
func New(client Client, opts Options) *Publisher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Algorithm == "" {
		opts.Algorithm = fingerprint.SHA256
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, opts: opts, logger: logger}
}

// Plan lists the files under dir in upload order. m decides which names are
// fingerprinted. Precompressed siblings are left out.
func (p *Publisher) Plan(dir string, m *assets.Manifest) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(dir, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || isSibling(file) {
			return nil
		}
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		obj := Object{
			Key:         p.key(rel),
			Path:        file,
			ContentType: contentType(rel),
		}
		switch {
		case m != nil && m.Fingerprinted(rel):
			obj.Phase = PhaseImmutable
			obj.CacheControl = CacheImmutable
		case path.Ext(rel) == ".html" || rel == assets.FileName:
			obj.Phase = PhaseEntry
			obj.CacheControl = CacheRevalidate
		default:
			obj.Phase = PhaseMutable
			obj.CacheControl = CacheRevalidate
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, errors.New("E207").
			WithDetail("Could not list " + dir).
			Wrap(err)
	}

	sort.SliceStable(objects, func(i, j int) bool {
		if objects[i].Phase != objects[j].Phase {
			return objects[i].Phase < objects[j].Phase
		}
		return objects[i].Key < objects[j].Key
	})
	return objects, nil
}

// Publish uploads dir phase by phase. Objects whose stored content hash
// matches the local file are skipped.
func (p *Publisher) Publish(ctx context.Context, dir string, m *assets.Manifest) (*Report, error) {
	if p.opts.Bucket == "" {
		return nil, errors.New("E207").
			WithDetail("No bucket configured").
			WithSuggestion("Set publish.bucket in the project file or pass --bucket")
	}

	objects, err := p.Plan(dir, m)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	var mu sync.Mutex
	for start := 0; start < len(objects); {
		end := start
		for end < len(objects) && objects[end].Phase == objects[start].Phase {
			end++
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.Concurrency)
		for _, obj := range objects[start:end] {
			obj := obj
			g.Go(func() error {
				uploaded, n, err := p.upload(gctx, obj)
				if err != nil {
					return err
				}
				mu.Lock()
				defer mu.Unlock()
				if uploaded {
					report.Uploaded = append(report.Uploaded, obj.Key)
					report.Bytes += n
				} else {
					report.Skipped = append(report.Skipped, obj.Key)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return report, err
		}
		p.logger.Debug("published phase", "phase", objects[start].Phase.String(), "objects", end-start)
		start = end
	}

	sort.Strings(report.Uploaded)
	sort.Strings(report.Skipped)
	return report, nil
}

// upload stores one object unless the bucket already holds the same bytes.
func (p *Publisher) upload(ctx context.Context, obj Object) (bool, int64, error) {
	data, err := os.ReadFile(obj.Path)
	if err != nil {
		return false, 0, errors.New("E207").WithOutput(obj.Key).Wrap(err)
	}
	hash := fingerprint.Sum(p.opts.Algorithm, data).Hex()

	if !p.opts.Force {
		same, err := p.stored(ctx, obj.Key, hash)
		if err != nil {
			return false, 0, errors.New("E207").
				WithOutput(obj.Key).
				WithDetail("Could not read s3://" + p.opts.Bucket + "/" + obj.Key).
				Wrap(err)
		}
		if same {
			p.logger.Debug("unchanged", "key", obj.Key)
			return false, 0, nil
		}
	}

	if p.opts.DryRun {
		p.logger.Info("would upload", "key", obj.Key, "bytes", len(data))
		return true, int64(len(data)), nil
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.opts.Bucket),
		Key:          aws.String(obj.Key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(obj.ContentType),
		CacheControl: aws.String(obj.CacheControl),
		Metadata:     map[string]string{HashMetadataKey: hash},
	})
	if err != nil {
		return false, 0, errors.New("E207").
			WithOutput(obj.Key).
			WithDetail("Could not write s3://" + p.opts.Bucket + "/" + obj.Key).
			Wrap(err)
	}
	p.logger.Info("uploaded", "key", obj.Key, "bytes", len(data), "cache", obj.CacheControl)
	return true, int64(len(data)), nil
}

// stored reports whether key exists with the given content hash.
func (p *Publisher) stored(ctx context.Context, key, hash string) (bool, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noKey *types.NoSuchKey
		if stderrors.As(err, &notFound) || stderrors.As(err, &noKey) {
			return false, nil
		}
		return false, err
	}
	return out.Metadata[HashMetadataKey] == hash, nil
}

func (p *Publisher) key(rel string) string {
	prefix := strings.Trim(p.opts.Prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

// isSibling reports whether file is a precompressed copy of another file.
func isSibling(file string) bool {
	switch filepath.Ext(file) {
	case ".gz", ".zst":
		return true
	}
	return false
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".json", ".map":
		return "application/json"
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

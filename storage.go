package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/text/unicode/norm"
)

const (
	conllSubdir    = "conll_files"
	dirDateLayout  = "02-Jan-2006"
	uploadFallback = "upload.conll"
)

// objectPutter is the slice of the S3 client the worker uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// secureFilename reduces name to a safe ASCII file name. It may return "".
func secureFilename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	for _, r := range name {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	name = b.String()

	name = strings.NewReplacer("/", " ", "\\", " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeFilenameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// allocateOutputDir creates the next free "<base>-NNNN" directory under root.
// base is the sanitised folder name, or the current date when that is empty.
func allocateOutputDir(root, folderName string, now time.Time) (string, error) {
	base := secureFilename(folderName)
	if base == "" {
		base = now.Format(dirDateLayout)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("list data dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	dir := filepath.Join(root, fmt.Sprintf("%s-%04d", base, nextSequence(names, base)))
	if err := os.MkdirAll(filepath.Join(dir, conllSubdir), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// nextSequence returns one past the highest numeric suffix among names
// starting with base, or 1 when there is none.
func nextSequence(names []string, base string) int {
	highest := 0
	for _, name := range names {
		if !strings.HasPrefix(name, base) {
			continue
		}
		idx := strings.LastIndex(name, "-")
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(name[idx+1:])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}

// writeFile creates path and streams write into it.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/x-ndjson"
	case ".py":
		return "text/x-python"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// uploadArtifacts mirrors every file of the job directory to
// s3://bucket/<prefix>/<dir name>/... and returns the key prefix used.
func (w *Worker) uploadArtifacts(ctx context.Context, jobID, dir string) (string, error) {
	keyPrefix := path.Join(w.config.S3Prefix, filepath.Base(dir))

	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk output dir: %w", err)
	}

	p := pool.New().
		WithMaxGoroutines(w.config.UploadConcurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, file := range files {
		file := file
		p.Go(func(ctx context.Context) error {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return err
			}
			key := path.Join(keyPrefix, filepath.ToSlash(rel))
			return w.putFile(ctx, jobID, key, file)
		})
	}

	if err := p.Wait(); err != nil {
		storageErrors.WithLabelValues("s3_upload").Inc()
		return "", err
	}

	w.log.Debug().Str("job_id", jobID).Int("files", len(files)).Str("prefix", keyPrefix).Msg("Uploaded artifacts")
	return keyPrefix, nil
}

func (w *Worker) putFile(ctx context.Context, jobID, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	_, err = w.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.config.S3Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(file)),
		Metadata: map[string]string{
			"job-id": jobID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", w.config.S3Bucket, key, err)
	}
	return nil
}

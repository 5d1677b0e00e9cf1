package backup_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tessera/backup"
	"github.com/syssam/tessera/store/codec"
	"github.com/syssam/tessera/store/memory"
)

// fakeS3 serves the subset of the S3 API used by the sink, without
// network access. Listings are paginated one key per page.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func response(code int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(body)), Header: header, ContentLength: int64(len(body))}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Path style: /bucket/key.
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	q := req.URL.Query()
	switch {
	case req.Method == http.MethodGet && q.Get("list-type") == "2":
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, q.Get("prefix")) && k > q.Get("continuation-token") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
		if len(keys) > 1 {
			fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[0])
			keys = keys[:1]
		} else {
			b.WriteString("<IsTruncated>false</IsTruncated>")
		}
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return response(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	case req.Method == http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if body, err = unchunk(body); err != nil {
				return nil, err
			}
		}
		f.objects[key] = body
		return response(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case req.Method == http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return response(http.StatusNotFound, []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`),
				http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, body, http.Header{"Content-Length": {strconv.Itoa(len(body))}}), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

// unchunk decodes an aws-chunked body, ignoring trailers.
func unchunk(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(size, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		chunk := make([]byte, n+2)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk[:n]...)
	}
}

func newS3Sink(t *testing.T, prefix string) (*backup.S3Sink, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://s3.test")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.RetryMaxAttempts = 1
	})
	return backup.NewS3Sink(client, "backups", prefix), fake
}

func TestS3Sink(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sink, fake := newS3Sink(t, "/nightly/")
	src := seed(t, 3)

	names := []string{backup.Name(now, codec.MsgPack{}), backup.Name(now.AddDate(0, 0, 1), codec.JSON{})}
	for i, name := range names {
		c := []codec.Codec{codec.MsgPack{}, codec.JSON{}}[i]
		sum, err := backup.Export(ctx, src, sink, name, backup.WithCodec(c))
		require.NoError(t, err)
		assert.Equal(t, 4, sum.Entities)
	}
	assert.Contains(t, fake.objects, "nightly/"+names[0])

	listed, err := sink.List(ctx, backup.NamePrefix)
	require.NoError(t, err)
	assert.Equal(t, names, listed)
	latest, err := backup.Latest(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, names[1], latest)

	for _, name := range names {
		dst := memory.New()
		sum, err := backup.Import(ctx, dst, sink, name)
		require.NoError(t, err)
		assert.Equal(t, 4, sum.Entities)
		assert.Equal(t, 4, dst.Len())
	}

	_, err = sink.Open(ctx, "missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = sink.Create(ctx, "../x")
	assert.Error(t, err)
}

func TestNewS3(t *testing.T) {
	t.Parallel()
	_, err := backup.NewS3(context.Background(), backup.S3Config{})
	assert.EqualError(t, err, "backup: s3 bucket required")

	sink, err := backup.NewS3(context.Background(), backup.S3Config{
		Bucket:          "b",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "secret",
		PathStyle:       true,
	})
	require.NoError(t, err)
	assert.NotNil(t, sink)
}

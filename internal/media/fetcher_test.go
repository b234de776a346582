package media

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeGetter struct {
	body string
	err  error

	bucket string
	key    string
}

func (g *fakeGetter) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	g.bucket = *in.Bucket
	g.key = *in.Key
	if g.err != nil {
		return nil, g.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(g.body))}, nil
}

func TestParseLocator(t *testing.T) {
	cases := []struct {
		name          string
		locator       string
		defaultBucket string
		bucket        string
		key           string
		wantErr       bool
	}{
		{name: "full locator", locator: "s3://videos/uploads/v.mp4", bucket: "videos", key: "uploads/v.mp4"},
		{name: "bare key uses default bucket", locator: "uploads/v.mp4", defaultBucket: "videos", bucket: "videos", key: "uploads/v.mp4"},
		{name: "leading slash trimmed", locator: "/uploads/v.mp4", defaultBucket: "videos", bucket: "videos", key: "uploads/v.mp4"},
		{name: "missing key", locator: "s3://videos", wantErr: true},
		{name: "empty", locator: "", wantErr: true},
		{name: "bare key without default bucket", locator: "v.mp4", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, err := parseLocator(tc.locator, tc.defaultBucket)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.bucket, bucket)
			require.Equal(t, tc.key, key)
		})
	}
}

func TestExtensionFor(t *testing.T) {
	require.Equal(t, ".mov", extensionFor("uploads/clip.mov"))
	require.Equal(t, ".mp4", extensionFor("uploads/clip"))
}

func TestFetch_WritesTempFileAndCleansUp(t *testing.T) {
	getter := &fakeGetter{body: "video bytes"}
	f := &Fetcher{client: getter, bucket: "videos", tempDir: t.TempDir()}

	path, cleanup, err := f.Fetch(context.Background(), "s3://videos/uploads/v.webm")
	require.NoError(t, err)
	require.Equal(t, "videos", getter.bucket)
	require.Equal(t, "uploads/v.webm", getter.key)
	require.Equal(t, ".webm", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "video bytes", string(data))

	cleanup()
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "cleanup must remove the temp file")

	// A second call must be harmless.
	cleanup()
}

func TestFetch_MissingObjectIsFetchError(t *testing.T) {
	getter := &fakeGetter{err: errors.New("NoSuchKey")}
	f := &Fetcher{client: getter, bucket: "videos", tempDir: t.TempDir()}

	_, _, err := f.Fetch(context.Background(), "s3://videos/missing.mp4")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.True(t, strings.HasPrefix(err.Error(), "FetchError:"), "got %q", err.Error())
}

func TestFetch_MalformedLocatorIsFetchError(t *testing.T) {
	f := &Fetcher{client: &fakeGetter{}, bucket: "", tempDir: t.TempDir()}
	_, _, err := f.Fetch(context.Background(), "s3://")
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
}

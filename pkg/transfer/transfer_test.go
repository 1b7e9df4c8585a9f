package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/annflow/pkg/provider"
	"github.com/3leaps/annflow/pkg/provider/file"
)

func newBucket(t *testing.T) provider.Provider {
	t.Helper()
	p, err := file.New(file.Config{Root: t.TempDir(), Bucket: "gas-inputs"})
	require.NoError(t, err)
	return p
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	p := newBucket(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "j1~test.vcf")
	require.NoError(t, os.WriteFile(src, []byte("##fileformat=VCFv4.1\n"), 0644))

	n, err := Upload(ctx, p, src, "acct/u1/j1~test.vcf")
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)

	dst := filepath.Join(dir, "job_data", "acct", "u1", "j1", "j1~test.vcf")
	n, err = Download(ctx, p, "acct/u1/j1~test.vcf", dst)
	require.NoError(t, err)
	assert.Equal(t, int64(21), n)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "##fileformat=VCFv4.1\n", string(b))
}

func TestDownload_Missing(t *testing.T) {
	p := newBucket(t)
	dst := filepath.Join(t.TempDir(), "out")

	_, err := Download(context.Background(), p, "nope", dst)
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, Classify(err))
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

type shortProvider struct {
	provider.Provider
}

func (s shortProvider) GetObject(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader("abc")), 10, nil
}

func TestDownload_SizeMismatch(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")
	_, err := Download(context.Background(), shortProvider{newBucket(t)}, "k", dst)

	var sme *SizeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, int64(10), sme.Expected)
	assert.Equal(t, int64(3), sme.Got)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestUpload_MissingSource(t *testing.T) {
	_, err := Upload(context.Background(), newBucket(t), filepath.Join(t.TempDir(), "none"), "k")
	assert.Error(t, err)
}

func TestWriteFile_LeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "restored.vcf")

	n, err := WriteFile(strings.NewReader("restored"), dst)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "restored.vcf", entries[0].Name())
}

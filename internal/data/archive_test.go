package data

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackAndUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "dump"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "metadata.json"), []byte(`{"a":1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "dump", "neo4j.dump"), []byte("dump bytes"), 0o644))

	archive := filepath.Join(t.TempDir(), "out.tar.gz")
	require.NoError(t, packDir(src, archive))

	dest := t.TempDir()
	require.NoError(t, unpackArchive(archive, dest))

	manifest, err := os.ReadFile(filepath.Join(dest, "metadata.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(manifest))

	dump, err := os.ReadFile(filepath.Join(dest, "dump", "neo4j.dump"))
	require.NoError(t, err)
	assert.Equal(t, "dump bytes", string(dump))
}

func TestUnpackRejectsNonGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("not compressed"), 0o644))

	err := unpackArchive(path, t.TempDir())
	assert.ErrorContains(t, err, "gzip")
}

func TestExtractTarRejectsPathTraversal(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("evil")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../escape.txt",
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	err = extractTar(&buf, t.TempDir())
	assert.ErrorContains(t, err, "escapes")
}

func TestTarFileSingleEntry(t *testing.T) {
	src := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(src, []byte("payload data"), 0o644))

	stream, err := tarFile(src, "neo4j.dump")
	require.NoError(t, err)

	tr := tar.NewReader(stream)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "neo4j.dump", hdr.Name)

	data, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "payload data", string(data))

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leftovers(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*"))
	require.NoError(t, err)
	return matches
}

func TestBuild_LocalAndRemoteDisks(t *testing.T) {
	ctx := context.Background()
	disks, local, remote := testutil.NewDisks(t)
	require.NoError(t, local.Put(ctx, "files/a", strings.NewReader("alpha"), -1, ""))
	require.NoError(t, remote.Put(ctx, "files/b", strings.NewReader("bravo"), -1, ""))

	tmp := t.TempDir()
	b := NewBuilder(disks, tmp)
	arc, err := b.Build(ctx, "bundle.zip", []Entry{
		{Path: "root/a.txt", Disk: "local", Key: "files/a"},
		{Path: "root/b.txt", Disk: "remote", Key: "files/b"},
		{Path: "root/empty/", Dir: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, arc.Entries)
	assert.Positive(t, arc.Size)
	assert.EqualValues(t, 1, remote.Opens(), "only the remote disk is spooled")
	// 只剩 zip 本身
	assert.Equal(t, []string{arc.Path}, leftovers(t, tmp))

	r, err := zip.OpenReader(arc.Path)
	require.NoError(t, err)
	got := map[string]string{}
	for _, zf := range r.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		got[zf.Name] = string(body)
		if zf.Name == "root/empty/" {
			assert.Equal(t, zip.Store, zf.Method)
		} else {
			assert.Equal(t, zip.Deflate, zf.Method)
		}
	}
	require.NoError(t, r.Close())
	assert.Equal(t, map[string]string{"root/a.txt": "alpha", "root/b.txt": "bravo", "root/empty/": ""}, got)

	f, err := arc.Open()
	require.NoError(t, err)
	f.Close()
	require.NoError(t, arc.Close())
	assert.Empty(t, leftovers(t, tmp))
	require.NoError(t, arc.Close())
}

func TestBuild_MissingContentCleansUp(t *testing.T) {
	ctx := context.Background()
	disks, _, remote := testutil.NewDisks(t)
	require.NoError(t, remote.Put(ctx, "files/b", strings.NewReader("bravo"), -1, ""))

	for _, missing := range []Entry{
		{Path: "gone-local.txt", Disk: "local", Key: "files/none"},
		{Path: "gone-remote.txt", Disk: "remote", Key: "files/none"},
	} {
		tmp := t.TempDir()
		_, err := NewBuilder(disks, tmp).Build(ctx, "x.zip", []Entry{
			{Path: "ok.txt", Disk: "remote", Key: "files/b"},
			missing,
		})
		require.ErrorIs(t, err, xerr.ErrContentMissing, missing.Path)
		assert.Contains(t, err.Error(), missing.Path)
		assert.Empty(t, leftovers(t, tmp), "spools and partial zip removed")
	}
}

func TestBuild_Cancelled(t *testing.T) {
	disks, local, _ := testutil.NewDisks(t)
	require.NoError(t, local.Put(context.Background(), "files/a", strings.NewReader("alpha"), -1, ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tmp := t.TempDir()
	_, err := NewBuilder(disks, tmp).Build(ctx, "x.zip", []Entry{{Path: "a", Disk: "local", Key: "files/a"}})
	assert.ErrorIs(t, err, xerr.ErrArchiveBuildFailure)
	assert.Empty(t, leftovers(t, tmp))
}

func TestBuild_UnknownDisk(t *testing.T) {
	disks, _, _ := testutil.NewDisks(t)
	tmp := t.TempDir()
	_, err := NewBuilder(disks, tmp).Build(context.Background(), "x.zip", []Entry{{Path: "a", Disk: "tape", Key: "k"}})
	assert.ErrorIs(t, err, xerr.ErrArchiveBuildFailure)
	_, statErr := os.Stat(tmp)
	require.NoError(t, statErr)
	assert.Empty(t, leftovers(t, tmp))
}

package explorer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadFile_StoresContent(t *testing.T) {
	f := newFixture(t)
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	home := f.folder(t, alice, nil, "Home")

	file := f.upload(t, alice, home.ID, "paper.pdf", "hello world")
	assert.Equal(t, uint64(len("hello world")), file.Size)
	assert.Equal(t, "local", file.Disk)
	assert.True(t, strings.HasPrefix(file.ContentKey, "files/"))
	assert.Equal(t, "application/pdf", file.MimeType)
	require.NotNil(t, file.Digest)
	assert.Len(t, *file.Digest, 64)
	assert.Equal(t, models.PrivateScope(alice.UserID), file.Scope())
	assert.Equal(t, "hello world", f.read(t, alice, file.ID))

	// 暂存对象已经移走
	assert.Equal(t, []string{file.ContentKey}, f.objects(t))
}

func TestUploadFile_DuplicateModes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	home := f.folder(t, alice, nil, "Home")
	original := f.upload(t, alice, home.ID, "report.txt", "v1")

	t.Run("fail", func(t *testing.T) {
		_, err := f.tree.UploadFile(ctx, alice, UploadRequest{FolderID: home.ID, Name: "report.txt", Content: strings.NewReader("dup")})
		assert.ErrorIs(t, err, xerr.ErrNameConflict)
		// 失败的上传不留下对象
		assert.Equal(t, []string{original.ContentKey}, f.objects(t))
	})

	t.Run("auto rename", func(t *testing.T) {
		first, err := f.tree.UploadFile(ctx, alice, UploadRequest{FolderID: home.ID, Name: "report.txt", Content: strings.NewReader("a"), DuplicateMode: DuplicateAutoRename})
		require.NoError(t, err)
		assert.Equal(t, "report (1).txt", first.Name)
		second, err := f.tree.UploadFile(ctx, alice, UploadRequest{FolderID: home.ID, Name: "report.txt", Content: strings.NewReader("b"), DuplicateMode: DuplicateAutoRename})
		require.NoError(t, err)
		assert.Equal(t, "report (2).txt", second.Name)
	})

	t.Run("replace", func(t *testing.T) {
		replaced, err := f.tree.UploadFile(ctx, alice, UploadRequest{FolderID: home.ID, Name: "report.txt", Content: strings.NewReader("v2"), DuplicateMode: DuplicateReplace})
		require.NoError(t, err)
		assert.Equal(t, original.ID, replaced.ID)
		assert.Equal(t, "v2", f.read(t, alice, original.ID))

		versions, err := f.tree.ListVersions(ctx, alice, original.ID)
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, uint(1), versions[0].Sequence)
		assert.Equal(t, original.ContentKey, versions[0].ContentKey)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := f.tree.UploadFile(ctx, alice, UploadRequest{FolderID: home.ID, Name: "x.txt", Content: strings.NewReader("x"), DuplicateMode: "merge"})
		assert.ErrorIs(t, err, xerr.ErrValidationFailed)
	})
}

func TestUploadFile_IntoTrashedFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	home := f.folder(t, alice, nil, "Home")
	require.NoError(t, f.life.DeleteFolder(ctx, alice, home.ID))

	_, err := f.tree.UploadFile(ctx, alice, UploadRequest{FolderID: home.ID, Name: "a.txt", Content: strings.NewReader("a")})
	assert.ErrorIs(t, err, xerr.ErrDestinationTrashed)
	assert.Empty(t, f.objects(t))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestUploadFile_ReadFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	home := f.folder(t, alice, nil, "Home")

	_, err := f.tree.UploadFile(context.Background(), alice, UploadRequest{FolderID: home.ID, Name: "a.txt", Content: io.MultiReader(strings.NewReader("partial"), failingReader{})})
	assert.ErrorIs(t, err, xerr.ErrStorageError)
	assert.Empty(t, f.objects(t))

	var count int64
	require.NoError(t, f.db.Model(&models.File{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReplaceAndRestoreVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	bob := actorOf(testutil.SeedUser(t, f.db, "bob", nil), everyone...)
	home := f.folder(t, alice, nil, "Home")
	file := f.upload(t, alice, home.ID, "plan.md", "one")

	_, err := f.tree.ReplaceFile(ctx, bob, file.ID, UploadRequest{Content: strings.NewReader("evil")})
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	_, err = f.tree.ReplaceFile(ctx, alice, file.ID, UploadRequest{Content: strings.NewReader("two")})
	require.NoError(t, err)
	_, err = f.tree.ReplaceFile(ctx, alice, file.ID, UploadRequest{Content: strings.NewReader("three")})
	require.NoError(t, err)
	assert.Equal(t, "three", f.read(t, alice, file.ID))

	versions, err := f.tree.ListVersions(ctx, alice, file.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	var first models.FileVersion
	for _, v := range versions {
		if v.Sequence == 1 {
			first = v
		}
	}
	require.NotZero(t, first.ID)

	restored, err := f.tree.RestoreVersion(ctx, alice, file.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, file.ID, restored.ID)
	assert.Equal(t, "one", f.read(t, alice, file.ID))

	versions, err = f.tree.ListVersions(ctx, alice, file.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 3, "restoring archives the current content as a new version")

	_, err = f.tree.RestoreVersion(ctx, alice, file.ID, 9999)
	assert.ErrorIs(t, err, xerr.ErrVersionNotFound)
}

func TestOpenFile_MissingContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	home := f.folder(t, alice, nil, "Home")
	file := f.upload(t, alice, home.ID, "gone.bin", "bytes")

	require.NoError(t, f.local.Delete(ctx, file.ContentKey))
	_, _, err := f.tree.OpenFile(ctx, alice, file.ID)
	assert.ErrorIs(t, err, xerr.ErrContentMissing)
}

package explorer

import (
	"context"
	"io"
	"os"
	"sort"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/archive"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zipContents 条目名到内容，目录条目内容为空
func zipContents(t *testing.T, arc *archive.Archive) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(arc.Path)
	require.NoError(t, err)
	defer r.Close()

	out := make(map[string]string, len(r.File))
	for _, zf := range r.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[zf.Name] = string(b)
	}
	return out
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestDownloadFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)

	root := f.folder(t, alice, nil, "Q3 Report")
	sub := f.folder(t, alice, &root.ID, "data")
	f.folder(t, alice, &root.ID, "empty")
	gone := f.folder(t, alice, &root.ID, "old")
	f.upload(t, alice, root.ID, "summary.txt", "summary")
	f.upload(t, alice, sub.ID, "numbers.csv", "1,2,3")
	f.upload(t, alice, gone.ID, "stale.txt", "stale")
	require.NoError(t, f.life.DeleteFolder(ctx, alice, gone.ID))

	arc, err := f.download.DownloadFolder(ctx, alice, root.ID)
	require.NoError(t, err)
	defer arc.Close()
	assert.Equal(t, "Q3 Report.zip", arc.Name)

	contents := zipContents(t, arc)
	assert.Equal(t, []string{
		"Q3 Report/data/numbers.csv",
		"Q3 Report/empty/",
		"Q3 Report/summary.txt",
	}, keys(contents))
	assert.Equal(t, "1,2,3", contents["Q3 Report/data/numbers.csv"])

	require.NoError(t, arc.Close())
	_, err = os.Stat(arc.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadFolder_SkipsFilesWithoutDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dept := testutil.SeedDepartment(t, f.db, "Ops")
	carol := actorOf(testutil.SeedUser(t, f.db, "carol", &dept.ID), everyone...)
	daveUser := testutil.SeedUser(t, f.db, "dave", &dept.ID)
	dave := actorOf(daveUser)

	team, err := f.tree.CreateFolder(ctx, carol, CreateFolderRequest{Name: "Team", Department: true})
	require.NoError(t, err)
	f.upload(t, carol, team.ID, "plan.txt", "plan")
	granted := f.upload(t, carol, team.ID, "granted.txt", "granted")

	// 部门成员能看到文件，但没有 files.download 角色
	arc, err := f.download.DownloadFolder(ctx, dave, team.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Team/"}, keys(zipContents(t, arc)))
	require.NoError(t, arc.Close())

	require.NoError(t, f.db.Create(&models.FilePermission{FileID: granted.ID, UserID: daveUser.ID, CanView: true, CanDownload: true, GrantedBy: carol.UserID}).Error)
	arc, err = f.download.DownloadFolder(ctx, dave, team.ID)
	require.NoError(t, err)
	defer arc.Close()
	assert.Equal(t, []string{"Team/granted.txt"}, keys(zipContents(t, arc)))

	_, err = f.download.DownloadFolder(ctx, actorOf(testutil.SeedUser(t, f.db, "eve", nil)), team.ID)
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)
}

func TestDownloadSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	bob := actorOf(testutil.SeedUser(t, f.db, "bob", nil), everyone...)

	one := f.folder(t, alice, nil, "one")
	two := f.folder(t, alice, nil, "two")
	a := f.upload(t, alice, one.ID, "report.txt", "first")
	b := f.upload(t, alice, two.ID, "report.txt", "second")
	f.upload(t, alice, two.ID, "inside.txt", "inside")

	arc, err := f.download.DownloadSelection(ctx, alice, []uint64{a.ID, b.ID, a.ID}, []uint64{two.ID})
	require.NoError(t, err)
	defer arc.Close()
	assert.Equal(t, "download.zip", arc.Name)

	contents := zipContents(t, arc)
	assert.Equal(t, "first", contents["report.txt"])
	assert.Equal(t, "second", contents["report_2.txt"])
	assert.Equal(t, "inside", contents["two/inside.txt"])
	assert.Len(t, contents, 4)

	_, err = f.download.DownloadSelection(ctx, bob, []uint64{a.ID}, nil)
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	_, err = f.download.DownloadSelection(ctx, alice, []uint64{9999}, nil)
	assert.ErrorIs(t, err, xerr.ErrFileNotFound)

	_, err = f.download.DownloadSelection(ctx, alice, nil, nil)
	assert.ErrorIs(t, err, xerr.ErrValidationFailed)
}

func TestDownloadSelection_SameEntriesOnRepeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)

	one := f.folder(t, alice, nil, "one")
	two := f.folder(t, alice, nil, "two")
	sub := f.folder(t, alice, &two.ID, "sub")
	f.folder(t, alice, &two.ID, "empty")
	a := f.upload(t, alice, one.ID, "notes.txt", "a")
	b := f.upload(t, alice, two.ID, "notes.txt", "b")
	f.upload(t, alice, sub.ID, "deep.txt", "deep")

	build := func() []string {
		arc, err := f.download.DownloadSelection(ctx, alice, []uint64{b.ID, a.ID}, []uint64{two.ID})
		require.NoError(t, err)
		defer arc.Close()
		return keys(zipContents(t, arc))
	}
	first := build()
	assert.Len(t, first, 5)
	assert.Equal(t, first, build())
}

func TestDownloadFolder_MissingContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), everyone...)
	root := f.folder(t, alice, nil, "root")
	file := f.upload(t, alice, root.ID, "a.txt", "a")
	require.NoError(t, f.local.Delete(ctx, file.ContentKey))

	_, err := f.download.DownloadFolder(ctx, alice, root.ID)
	assert.ErrorIs(t, err, xerr.ErrContentMissing)
}

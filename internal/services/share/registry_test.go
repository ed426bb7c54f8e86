package share

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/pkg/xerr"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/explorer"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var allRoles = []string{
	access.CapFilesDownload,
	access.CapFilesUpdate,
	access.CapFilesDelete,
	access.CapFoldersUpdate,
	access.CapFoldersDelete,
	access.CapFoldersCreateDept,
}

type fixture struct {
	db       *gorm.DB
	disks    *storage.Manager
	tree     explorer.TreeService
	life     explorer.LifecycleService
	registry Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	disks, _, _ := testutil.NewDisks(t)
	deps := explorer.Deps{DB: db, Disks: disks}
	return &fixture{
		db:       db,
		disks:    disks,
		tree:     explorer.NewTreeService(deps),
		life:     explorer.NewLifecycleService(deps),
		registry: NewRegistry(db, nil, nil, disks, nil),
	}
}

func actorOf(u *models.User, caps ...string) access.Actor {
	return access.Actor{UserID: u.ID, DepartmentID: u.DepartmentID, Roles: access.NewRoleSet(caps...)}
}

func (f *fixture) folder(t *testing.T, actor access.Actor, name string) *models.Folder {
	t.Helper()
	folder, err := f.tree.CreateFolder(context.Background(), actor, explorer.CreateFolderRequest{Name: name})
	require.NoError(t, err)
	return folder
}

func (f *fixture) file(t *testing.T, actor access.Actor, folderID uint64, name, body string) *models.File {
	t.Helper()
	file, err := f.tree.UploadFile(context.Background(), actor, explorer.UploadRequest{FolderID: folderID, Name: name, Content: strings.NewReader(body)})
	require.NoError(t, err)
	return file
}

func TestShareFolder_GrantUpsertAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), allRoles...)
	bobUser := testutil.SeedUser(t, f.db, "bob", nil)
	bob := actorOf(bobUser)
	home := f.folder(t, alice, "Home")

	_, err := f.registry.ShareFolder(ctx, bob, home.ID, bobUser.ID, Permissions{View: true})
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)
	_, err = f.registry.ShareFolder(ctx, alice, home.ID, 9999, Permissions{View: true})
	assert.ErrorIs(t, err, xerr.ErrUserNotFound)
	_, err = f.registry.ShareFolder(ctx, alice, home.ID, alice.UserID, Permissions{View: true})
	assert.ErrorIs(t, err, xerr.ErrValidationFailed)

	grant, err := f.registry.ShareFolder(ctx, alice, home.ID, bobUser.ID, Permissions{View: true, Edit: true})
	require.NoError(t, err)
	assert.True(t, grant.CanUpload, "upload follows edit when unset")

	_, err = f.registry.ShareFolder(ctx, alice, home.ID, bobUser.ID, Permissions{View: true, Upload: testutil.Ptr(false)})
	require.NoError(t, err)
	grants, err := f.registry.ListFolderGrants(ctx, alice, home.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.False(t, grants[0].CanEdit)
	assert.False(t, grants[0].CanUpload)

	_, err = f.registry.ListFolderGrants(ctx, bob, home.ID)
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	require.NoError(t, f.registry.RevokeFolderShare(ctx, alice, home.ID, bobUser.ID))
	assert.ErrorIs(t, f.registry.RevokeFolderShare(ctx, alice, home.ID, bobUser.ID), xerr.ErrGrantNotFound)
}

func TestSelfRevokeFileShare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), allRoles...)
	bobUser := testutil.SeedUser(t, f.db, "bob", nil)
	home := f.folder(t, alice, "Home")
	file := f.file(t, alice, home.ID, "a.txt", "a")

	_, err := f.registry.ShareFile(ctx, alice, file.ID, bobUser.ID, Permissions{View: true, Download: true})
	require.NoError(t, err)

	bob := actorOf(bobUser)
	require.NoError(t, f.registry.SelfRevokeFileShare(ctx, bob, file.ID))
	assert.ErrorIs(t, f.registry.SelfRevokeFileShare(ctx, bob, file.ID), xerr.ErrGrantNotFound)

	_, _, err = f.tree.OpenFile(ctx, bob, file.ID)
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)
}

func TestShareToDepartment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dept := testutil.SeedDepartment(t, f.db, "Ops")
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", &dept.ID), allRoles...)
	bob := testutil.SeedUser(t, f.db, "bob", &dept.ID)
	carol := testutil.SeedUser(t, f.db, "carol", &dept.ID)
	leaver := testutil.SeedUser(t, f.db, "leaver", &dept.ID)
	require.NoError(t, f.db.Model(leaver).Update("employment_status", "terminated").Error)
	loner := actorOf(testutil.SeedUser(t, f.db, "loner", nil), allRoles...)

	home := f.folder(t, alice, "Home")
	file := f.file(t, alice, home.ID, "memo.txt", "memo")

	_, err := f.registry.ShareToDepartment(ctx, loner, ResourceRef{Kind: ResourceFolder, ID: home.ID}, DepartmentShareOptions{})
	assert.ErrorIs(t, err, xerr.ErrNoDepartment)

	res, err := f.registry.ShareToDepartment(ctx, alice, ResourceRef{Kind: ResourceFolder, ID: home.ID}, DepartmentShareOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Granted)
	assert.Equal(t, models.VisibilityShared, res.Visibility)

	grants, err := f.registry.ListFolderGrants(ctx, alice, home.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Contains(t, []uint64{bob.ID, carol.ID}, g.UserID)
		assert.True(t, g.CanView)
		assert.False(t, g.CanEdit)
	}

	res, err = f.registry.ShareToDepartment(ctx, alice, ResourceRef{Kind: ResourceFile, ID: file.ID}, DepartmentShareOptions{Permissions: &Permissions{View: true, Download: true}})
	require.NoError(t, err)
	assert.Equal(t, models.VisibilityDepartment, res.Visibility)

	var stored models.File
	require.NoError(t, f.db.First(&stored, file.ID).Error)
	assert.Equal(t, models.VisibilityDepartment, stored.Visibility)
	// 归属不变
	assert.Equal(t, models.PrivateScope(alice.UserID), stored.Scope())

	_, err = f.registry.ShareToDepartment(ctx, alice, ResourceRef{Kind: "bucket", ID: 1}, DepartmentShareOptions{})
	assert.ErrorIs(t, err, xerr.ErrValidationFailed)
}

func TestLinks_CreateValidateRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), allRoles...)
	bob := actorOf(testutil.SeedUser(t, f.db, "bob", nil), allRoles...)
	home := f.folder(t, alice, "Home")
	file := f.file(t, alice, home.ID, "deck.pdf", "slides")

	_, err := f.registry.CreateLink(ctx, bob, file.ID, LinkOptions{})
	assert.ErrorIs(t, err, xerr.ErrPermissionDenied)

	past := time.Now().Add(-time.Hour)
	_, err = f.registry.CreateLink(ctx, alice, file.ID, LinkOptions{ExpiresAt: &past})
	require.ErrorIs(t, err, xerr.ErrValidationFailed)
	_, _, field := xerr.Lookup(err)
	assert.Equal(t, "expires_at", field)

	_, err = f.registry.CreateLink(ctx, alice, file.ID, LinkOptions{MaxDownloads: testutil.Ptr(uint32(0))})
	assert.ErrorIs(t, err, xerr.ErrValidationFailed)

	link, err := f.registry.CreateLink(ctx, alice, file.ID, LinkOptions{Password: testutil.Ptr("hunter2")})
	require.NoError(t, err)
	assert.Len(t, link.Token, 64)
	require.NotNil(t, link.PasswordHash)
	assert.NotEqual(t, "hunter2", *link.PasswordHash)

	_, err = f.registry.ValidateLink(ctx, link.Token, "wrong")
	assert.ErrorIs(t, err, xerr.ErrLinkPasswordMismatch)
	_, err = f.registry.ValidateLink(ctx, "nope", "")
	assert.ErrorIs(t, err, xerr.ErrLinkInaccessible)

	_, rc, err := f.registry.OpenLink(ctx, link.Token, "hunter2")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "slides", string(body))

	links, err := f.registry.ListLinks(ctx, alice, file.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, uint32(1), links[0].DownloadCount)

	require.NoError(t, f.registry.RevokeLink(ctx, alice, link.ID))
	_, err = f.registry.ValidateLink(ctx, link.Token, "hunter2")
	assert.ErrorIs(t, err, xerr.ErrLinkInaccessible)
	assert.ErrorIs(t, f.registry.RegisterDownload(ctx, link.ID), xerr.ErrLinkInaccessible)

	// 撤销只打标记
	var count int64
	require.NoError(t, f.db.Model(&models.ShareLink{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLinks_TrashedFileIsInaccessible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), allRoles...)
	home := f.folder(t, alice, "Home")
	file := f.file(t, alice, home.ID, "a.txt", "a")

	link, err := f.registry.CreateLink(ctx, alice, file.ID, LinkOptions{})
	require.NoError(t, err)
	require.NoError(t, f.life.DeleteFile(ctx, alice, file.ID))

	_, err = f.registry.ValidateLink(ctx, link.Token, "")
	assert.ErrorIs(t, err, xerr.ErrLinkInaccessible)
}

func TestLinks_ExpiredIsInaccessible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), allRoles...)
	home := f.folder(t, alice, "Home")
	file := f.file(t, alice, home.ID, "a.txt", "a")

	link, err := f.registry.CreateLink(ctx, alice, file.ID, LinkOptions{ExpiresAt: testutil.Ptr(time.Now().Add(time.Hour))})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.ShareLink{}).Where("id = ?", link.ID).Update("expires_at", time.Now().Add(-time.Minute).UTC()).Error)

	_, err = f.registry.ValidateLink(ctx, link.Token, "")
	assert.ErrorIs(t, err, xerr.ErrLinkInaccessible)
	assert.ErrorIs(t, f.registry.RegisterDownload(ctx, link.ID), xerr.ErrLinkInaccessible)
}

func TestRegisterDownload_ConcurrentLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := actorOf(testutil.SeedUser(t, f.db, "alice", nil), allRoles...)
	home := f.folder(t, alice, "Home")
	file := f.file(t, alice, home.ID, "once.txt", "once")

	link, err := f.registry.CreateLink(ctx, alice, file.ID, LinkOptions{MaxDownloads: testutil.Ptr(uint32(1))})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.registry.RegisterDownload(ctx, link.ID)
		}(i)
	}
	wg.Wait()

	var ok, limited int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, xerr.ErrLinkDownloadLimitReached):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, limited)

	_, err = f.registry.ValidateLink(ctx, link.Token, "")
	assert.ErrorIs(t, err, xerr.ErrLinkDownloadLimitReached)
}

package explorer

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/3Eeeecho/go-docstore/internal/models"
	"github.com/3Eeeecho/go-docstore/internal/pkg/audit"
	"github.com/3Eeeecho/go-docstore/internal/pkg/storage"
	"github.com/3Eeeecho/go-docstore/internal/services/access"
	"github.com/3Eeeecho/go-docstore/internal/services/archive"
	"github.com/3Eeeecho/go-docstore/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memorySink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memorySink) Record(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memorySink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	disks    *storage.Manager
	local    *storage.LocalDisk
	remote   *testutil.RemoteDisk
	sink     *memorySink
	tree     TreeService
	life     LifecycleService
	query    QueryService
	download DownloadService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	disks, local, remote := testutil.NewDisks(t)
	sink := &memorySink{}
	deps := Deps{DB: db, Disks: disks, Audit: sink}
	return &fixture{
		db:       db,
		disks:    disks,
		local:    local,
		remote:   remote,
		sink:     sink,
		tree:     NewTreeService(deps),
		life:     NewLifecycleService(deps),
		query:    NewQueryService(deps),
		download: NewDownloadService(deps, archive.NewBuilder(disks, t.TempDir())),
	}
}

// everyone 拥有全部角色能力
var everyone = []string{
	access.CapFilesDownload,
	access.CapFilesUpdate,
	access.CapFilesDelete,
	access.CapFoldersUpdate,
	access.CapFoldersDelete,
	access.CapFoldersCreateDept,
}

func actorOf(u *models.User, caps ...string) access.Actor {
	return access.Actor{UserID: u.ID, DepartmentID: u.DepartmentID, Roles: access.NewRoleSet(caps...)}
}

func (f *fixture) folder(t *testing.T, actor access.Actor, parentID *uint64, name string) *models.Folder {
	t.Helper()
	folder, err := f.tree.CreateFolder(context.Background(), actor, CreateFolderRequest{ParentID: parentID, Name: name})
	require.NoError(t, err)
	return folder
}

func (f *fixture) upload(t *testing.T, actor access.Actor, folderID uint64, name, body string) *models.File {
	t.Helper()
	file, err := f.tree.UploadFile(context.Background(), actor, UploadRequest{
		FolderID: folderID,
		Name:     name,
		Content:  strings.NewReader(body),
	})
	require.NoError(t, err)
	return file
}

func (f *fixture) reloadFolder(t *testing.T, id uint64) models.Folder {
	t.Helper()
	var folder models.Folder
	require.NoError(t, f.db.First(&folder, id).Error)
	return folder
}

func (f *fixture) reloadFile(t *testing.T, id uint64) models.File {
	t.Helper()
	var file models.File
	require.NoError(t, f.db.First(&file, id).Error)
	return file
}

func (f *fixture) read(t *testing.T, actor access.Actor, fileID uint64) string {
	t.Helper()
	_, rc, err := f.tree.OpenFile(context.Background(), actor, fileID)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

// objects 本地磁盘上的全部对象 key
func (f *fixture) objects(t *testing.T) []string {
	t.Helper()
	var keys []string
	root := f.local.Root()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	return keys
}

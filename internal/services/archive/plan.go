// Package archive 把文件夹子树或任意选择打包成一个 zip
package archive

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/3Eeeecho/go-docstore/internal/models"
)

const (
	FallbackFile   = "file"
	FallbackFolder = "folder"
)

// Entry zip 中的一项。目录项 Path 以 / 结尾且没有内容
type Entry struct {
	Path     string
	Dir      bool
	FileID   uint64
	Disk     string
	Key      string
	Size     uint64
	Modified time.Time
}

// Tree 一个待打包的文件夹子树，Folders 为全部后代，Files 为子树内的文件
type Tree struct {
	Root    models.Folder
	Folders []models.Folder
	Files   []models.File
}

// Sanitize 只保留 [A-Za-z0-9._ -]，去掉首尾的点和空格，结果为空时使用 fallback
func Sanitize(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == ' ', r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return fallback
	}
	return out
}

// namespace 同一目录下已占用的名称
type namespace map[string]struct{}

// claim 冲突时目录追加 _2、_3…，文件只改主名保留扩展名
func (ns namespace) claim(name string, isFile bool) string {
	if _, taken := ns[name]; !taken {
		ns[name] = struct{}{}
		return name
	}
	stem, ext := name, ""
	if isFile {
		if e := path.Ext(name); e != "" && e != name {
			stem, ext = strings.TrimSuffix(name, e), e
		}
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if _, taken := ns[candidate]; !taken {
			ns[candidate] = struct{}{}
			return candidate
		}
	}
}

// PlanFolder 从 root 开始按层分配路径，root 自身的路径是它的名称
func PlanFolder(root models.Folder, folders []models.Folder, files []models.File) []Entry {
	rootName := Sanitize(root.Name, FallbackFolder)
	return planTree(rootName, Tree{Root: root, Folders: folders, Files: files})
}

// PlanSelection 散文件放在根目录，选中的文件夹各占一个根目录名，顺序与输入一致
func PlanSelection(files []models.File, trees []Tree) []Entry {
	rootNS := namespace{}
	var entries []Entry
	for _, f := range files {
		name := rootNS.claim(Sanitize(f.Name, FallbackFile), true)
		entries = append(entries, fileEntry(name, &f))
	}
	for _, t := range trees {
		rootName := rootNS.claim(Sanitize(t.Root.Name, FallbackFolder), false)
		entries = append(entries, planTree(rootName, t)...)
	}
	return entries
}

func planTree(rootPath string, t Tree) []Entry {
	children := make(map[uint64][]models.Folder)
	for _, f := range t.Folders {
		if f.ParentID != nil && f.ID != t.Root.ID {
			children[*f.ParentID] = append(children[*f.ParentID], f)
		}
	}
	filesIn := make(map[uint64][]models.File)
	for _, f := range t.Files {
		filesIn[f.FolderID] = append(filesIn[f.FolderID], f)
	}
	for _, list := range children {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Name != list[j].Name {
				return list[i].Name < list[j].Name
			}
			return list[i].ID < list[j].ID
		})
	}
	for _, list := range filesIn {
		sort.Slice(list, func(i, j int) bool {
			if list[i].Name != list[j].Name {
				return list[i].Name < list[j].Name
			}
			return list[i].ID < list[j].ID
		})
	}

	type queued struct {
		folder models.Folder
		path   string
	}
	var entries []Entry
	assigned := map[uint64]struct{}{t.Root.ID: {}}
	queue := []queued{{folder: t.Root, path: rootPath}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		ns := namespace{}
		subs := children[cur.folder.ID]
		contents := filesIn[cur.folder.ID]
		if len(subs) == 0 && len(contents) == 0 {
			entries = append(entries, Entry{Path: cur.path + "/", Dir: true, Modified: cur.folder.UpdatedAt})
		}
		for _, sub := range subs {
			if _, seen := assigned[sub.ID]; seen {
				continue
			}
			assigned[sub.ID] = struct{}{}
			name := ns.claim(Sanitize(sub.Name, FallbackFolder), false)
			queue = append(queue, queued{folder: sub, path: cur.path + "/" + name})
		}
		for i := range contents {
			name := ns.claim(Sanitize(contents[i].Name, FallbackFile), true)
			entries = append(entries, fileEntry(cur.path+"/"+name, &contents[i]))
		}
	}
	return entries
}

func fileEntry(p string, f *models.File) Entry {
	return Entry{
		Path:     p,
		FileID:   f.ID,
		Disk:     f.Disk,
		Key:      f.ContentKey,
		Size:     f.Size,
		Modified: f.UpdatedAt,
	}
}

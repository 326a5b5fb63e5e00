package common

import (
	"github.com/zhukovaskychina/xnandfs/nandfs/inode"
)

// RootIno 根目录约定占用1号inode
const RootIno = 1

// SkipElem 取出路径的下一个元素。
// "///a//bb" -> ("bb", "a", true); 路径耗尽时ok为false。
func SkipElem(path string) (string, string, bool) {
	index := 0
	for index < len(path) && path[index] == '/' {
		index++
	}
	if index == len(path) {
		return "", "", false
	}
	start := index
	for index < len(path) && path[index] != '/' {
		index++
	}
	name := path[start:index]
	for index < len(path) && path[index] == '/' {
		index++
	}
	return path[index:], name, true
}

// NameX 从根目录逐级解析路径。nameIParent为真时返回父目录与末级名。
// 中间节点的引用在下降时立即释放。
func NameX(manager *inode.InodeManager, path string, nameIParent bool) (*inode.Inode, string, bool) {
	if len(path) == 0 || path[0] != '/' {
		return nil, "", false
	}
	ip := manager.IGet(RootIno)
	name := ""
	for {
		rest, elem, ok := SkipElem(path)
		if !ok {
			break
		}
		path, name = rest, elem
		if ip.FileType != inode.FileTypeDirectory {
			manager.IPut(ip)
			return nil, "", false
		}
		if nameIParent && path == "" {
			return ip, name, true
		}
		next, _, ok := DirLookup(ip, name)
		if !ok {
			manager.IPut(ip)
			return nil, "", false
		}
		manager.IPut(ip)
		ip = manager.IGet(next)
	}
	if nameIParent {
		manager.IPut(ip)
		return nil, "", false
	}
	return ip, name, true
}

// NameI 解析路径到inode
func NameI(manager *inode.InodeManager, path string) (*inode.Inode, bool) {
	ip, _, ok := NameX(manager, path, false)
	return ip, ok
}

// NameIParent 解析路径到父目录, 并给出末级名
func NameIParent(manager *inode.InodeManager, path string) (*inode.Inode, string, bool) {
	return NameX(manager, path, true)
}

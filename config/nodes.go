package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
)

// LoadNodesFile 读取节点列表文件
func LoadNodesFile(path string) ([]NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseNodes(data)
}

// Nodes 优先使用 LAVALINK_NODES，否则读取节点文件
func (c *Config) Nodes() ([]NodeConfig, error) {
	inline, err := c.InlineNodes()
	if err != nil || inline != nil {
		return inline, err
	}
	return LoadNodesFile(c.NodesFile)
}

// WatchNodesFile 监听节点文件变化，解析成功后调用 onChange；ctx 结束时返回。
// 监听的是所在目录，编辑器"写临时文件再改名"的保存方式也能捕获。
func WatchNodesFile(ctx context.Context, path string, onChange func([]NodeConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			nodes, err := LoadNodesFile(abs)
			if err != nil {
				logger.Warn("节点文件解析失败，保留原列表", logger.String("path", abs), logger.ErrorField(err))
				continue
			}
			logger.Info("节点文件已更新", logger.String("path", abs), logger.Int("nodes", len(nodes)))
			onChange(nodes)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("节点文件监听出错", logger.ErrorField(err))
		}
	}
}

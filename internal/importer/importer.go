// Package importer 从 JSON 文件导入嵌套的变体树。
// 文件内容可以是单个节点对象，也可以是节点数组；children 递归嵌套。
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
	"variantenbaum-go/pkg/typecode"
)

// Importer 通过 TreeService 写入节点，闭包索引和标签段随之维护。
type Importer struct {
	tree service.TreeService
}

// New 创建一个新的 Importer 实例。
func New(tree service.TreeService) *Importer {
	return &Importer{tree: tree}
}

// ReadFile 解析导入文件。
func ReadFile(path string) ([]model.ImportNode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: empty import file", path)
	}
	var nodes []model.ImportNode
	if raw[0] == '[' {
		err = json.Unmarshal(raw, &nodes)
	} else {
		var one model.ImportNode
		err = json.Unmarshal(raw, &one)
		nodes = []model.ImportNode{one}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return nodes, nil
}

// ImportFile 把文件中的树挂到 parentID 下，parentID 为 nil 时作为新的产品族导入。
func (im *Importer) ImportFile(ctx context.Context, path string, parentID *uint) (int, error) {
	nodes, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	return im.tree.ImportTree(ctx, parentID, nodes)
}

// SeedDir 扫描目录下的 *.json 文件并导入其中的产品族（幂等）：已存在的产品族会被跳过。
// 单个文件失败只记录日志，不影响其他文件。
func (im *Importer) SeedDir(ctx context.Context, dir string) (int, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("SeedDir: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return 0, nil
	}

	fams, err := im.tree.Families(ctx)
	if err != nil {
		return 0, err
	}
	existing := make(map[string]struct{}, len(fams))
	for _, f := range fams {
		existing[f.CodeValue()] = struct{}{}
	}

	total := 0
	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".json") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		nodes, err := ReadFile(path)
		if err != nil {
			log.Warnf("SeedDir: 解析文件失败: %s, err=%v", path, err)
			return nil
		}
		var fresh []model.ImportNode
		for _, n := range nodes {
			if n.Code != nil {
				code := typecode.Normalize(*n.Code)
				if _, ok := existing[code]; ok {
					log.Infof("SeedDir: 产品族已存在，跳过: %s (%s)", code, filepath.Base(path))
					continue
				}
				existing[code] = struct{}{}
			}
			fresh = append(fresh, n)
		}
		if len(fresh) == 0 {
			return nil
		}
		n, err := im.tree.ImportTree(ctx, nil, fresh)
		total += n
		if err != nil {
			log.Warnf("SeedDir: 导入失败: %s, 已写入 %d 个节点, err=%v", path, n, err)
			return nil
		}
		log.Infof("SeedDir: 导入完成: %s, 共 %d 个节点", filepath.Base(path), n)
		return nil
	})
	return total, walkErr
}

package repository

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"variantenbaum-go/internal/model"
)

type pathKey struct {
	ancestor, descendant uint
}

// DeriveClosure 从 parent_id 关系暴力推导闭包：每个节点沿父链向上，
// 为每个祖先生成一条边。检测到环时返回错误。
func DeriveClosure(parents map[uint]*uint) ([]model.NodePath, error) {
	ids := make([]uint, 0, len(parents))
	for id := range parents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []model.NodePath
	for _, id := range ids {
		cur, depth := id, 0
		for {
			out = append(out, model.NodePath{AncestorID: cur, DescendantID: id, Depth: depth})
			p := parents[cur]
			if p == nil {
				break
			}
			if _, ok := parents[*p]; !ok {
				return nil, fmt.Errorf("node %d references missing parent %d", cur, *p)
			}
			cur = *p
			depth++
			if depth > len(parents) {
				return nil, fmt.Errorf("cycle detected at node %d", id)
			}
		}
	}
	return out, nil
}

func (r *nodeRepository) parentLinks(ctx context.Context) (map[uint]*uint, error) {
	return parentLinksOf(r.db.WithContext(ctx))
}

func parentLinksOf(db *gorm.DB) (map[uint]*uint, error) {
	type link struct {
		ID       uint
		ParentID *uint
	}
	var links []link
	if err := db.Model(&model.Node{}).Select("id, parent_id").Scan(&links).Error; err != nil {
		return nil, err
	}
	parents := make(map[uint]*uint, len(links))
	for _, l := range links {
		parents[l.ID] = l.ParentID
	}
	return parents, nil
}

// VerifyClosure 比较 node_paths 与暴力推导的结果。
func (r *nodeRepository) VerifyClosure(ctx context.Context) (model.ClosureReport, error) {
	var report model.ClosureReport
	parents, err := r.parentLinks(ctx)
	if err != nil {
		return report, err
	}
	expected, err := DeriveClosure(parents)
	if err != nil {
		return report, err
	}
	var actual []model.NodePath
	if err := r.db.WithContext(ctx).Order("descendant_id, depth").Find(&actual).Error; err != nil {
		return report, err
	}
	report.Expected, report.Actual = len(expected), len(actual)

	want := make(map[pathKey]int, len(expected))
	for _, p := range expected {
		want[pathKey{p.AncestorID, p.DescendantID}] = p.Depth
	}
	seen := make(map[pathKey]struct{}, len(actual))
	for _, p := range actual {
		k := pathKey{p.AncestorID, p.DescendantID}
		seen[k] = struct{}{}
		d, ok := want[k]
		switch {
		case !ok:
			report.Extra = append(report.Extra, p)
		case d != p.Depth:
			report.WrongDepth = append(report.WrongDepth, p)
		}
	}
	for _, p := range expected {
		if _, ok := seen[pathKey{p.AncestorID, p.DescendantID}]; !ok {
			report.Missing = append(report.Missing, p)
		}
	}
	return report, nil
}

// RebuildClosure 在一个事务中读取 parent_id 并用暴力推导的结果替换整个闭包索引，返回写入的行数。
func (r *nodeRepository) RebuildClosure(ctx context.Context) (int, error) {
	var n int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// FOR UPDATE 锁住节点表，重建期间并发插入的节点不会丢失闭包边
		parents, err := parentLinksOf(tx.Clauses(clause.Locking{Strength: "UPDATE"}))
		if err != nil {
			return err
		}
		rows, err := DeriveClosure(parents)
		if err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM node_paths").Error; err != nil {
			return err
		}
		n = len(rows)
		if n == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, r.batchSize).Error
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/log"
	"variantenbaum-go/pkg/typecode"
)

// 批量创建的结果类型
const (
	BulkResultLinks = "links"
	BulkResultHint  = "hint"
)

// SuccessorService 接口定义了替代关系的管理与查询。
type SuccessorService interface {
	CreateBulk(ctx context.Context, sourceIDs, targetIDs []uint, note, createdBy string) (*model.BulkSuccessorResult, error)
	Create(ctx context.Context, s *model.ProductSuccessor) error
	Update(ctx context.Context, id uint, s *model.ProductSuccessor) error
	Delete(ctx context.Context, id uint) error
	List(ctx context.Context, sourceNodeID *uint) ([]model.ProductSuccessor, error)
	SuccessorFor(ctx context.Context, nodeID uint) (*model.SuccessorInfo, error)
	SuccessorForProduct(ctx context.Context, fullCode string, nodeIDs []uint) (*model.SuccessorInfo, error)
}

type successorService struct {
	tx    repository.Transactor
	repo  repository.SuccessorRepository
	nodes repository.NodeRepository
	guard writeGuard
}

// NewSuccessorService 创建一个新的 SuccessorService 实例。
func NewSuccessorService(tx repository.Transactor, repo repository.SuccessorRepository, nodes repository.NodeRepository, publisher kafka.Publisher) SuccessorService {
	return &successorService{tx: tx, repo: repo, nodes: nodes, guard: newWriteGuard(nil, publisher)}
}

// loadAll 加载全部节点，有缺失时返回 NotFound 并列出缺失的 ID。
func (s *successorService) loadAll(ctx context.Context, what string, ids []uint) ([]model.Node, error) {
	nodes, err := s.nodes.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[uint]struct{}, len(nodes))
	for _, n := range nodes {
		found[n.ID] = struct{}{}
	}
	var missing []uint
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("%s nodes %v", what, missing)
	}
	return nodes, nil
}

// CreateBulk 数量相同时按 ID 排序后一一建立替代关系，已存在的组合跳过；
// 数量不同时创建或更新一条聚合提示。
func (s *successorService) CreateBulk(ctx context.Context, sourceIDs, targetIDs []uint, note, createdBy string) (*model.BulkSuccessorResult, error) {
	if len(sourceIDs) == 0 || len(targetIDs) == 0 {
		return nil, apperr.Validation("source_ids and target_ids must both be non-empty")
	}
	sourceIDs, targetIDs = sortIDs(dedupe(sourceIDs)), sortIDs(dedupe(targetIDs))
	for _, id := range sourceIDs {
		if containsID(targetIDs, id) {
			return nil, apperr.Validation("node %d cannot be its own successor", id)
		}
	}
	sources, err := s.loadAll(ctx, "source", sourceIDs)
	if err != nil {
		return nil, err
	}
	targets, err := s.loadAll(ctx, "target", targetIDs)
	if err != nil {
		return nil, err
	}

	if len(sources) == len(targets) {
		return s.createLinks(ctx, sources, targets, note, createdBy)
	}
	return s.writeHint(ctx, sourceIDs, targetIDs, note, createdBy)
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (s *successorService) createLinks(ctx context.Context, sources, targets []model.Node, note, createdBy string) (*model.BulkSuccessorResult, error) {
	srcIDs := make([]uint, len(sources))
	for i, n := range sources {
		srcIDs[i] = n.ID
	}
	existing, err := s.repo.ExistingPairs(ctx, srcIDs)
	if err != nil {
		return nil, err
	}

	res := &model.BulkSuccessorResult{Type: BulkResultLinks, Successors: []model.ProductSuccessor{}}
	var rows []model.ProductSuccessor
	for i := range sources {
		src, dst := sources[i], targets[i]
		if existing[[2]uint{src.ID, dst.ID}] {
			res.SkippedCount++
			continue
		}
		targetID := dst.ID
		row := model.ProductSuccessor{
			SourceNodeID:      src.ID,
			SourceType:        sourceTypeOf(&src),
			TargetNodeID:      &targetID,
			ReplacementType:   model.ReplacementSuccessor,
			MigrationNote:     note,
			ShowWarning:       true,
			AllowOldSelection: true,
			WarningSeverity:   model.SeverityWarning,
			CreatedBy:         createdBy,
		}
		if fam, err := s.nodes.FamilyOf(ctx, dst.ID); err == nil {
			code := fam.CodeValue()
			row.TargetFamilyCode = &code
		}
		rows = append(rows, row)
	}

	err = s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).CreateBatch(ctx, rows)
	})
	if err != nil {
		return nil, fmt.Errorf("create successor links: %w", err)
	}
	res.CreatedCount = len(rows)
	if rows != nil {
		res.Successors = rows
	}
	res.Message = fmt.Sprintf("%d successor link(s) created, %d skipped", res.CreatedCount, res.SkippedCount)
	log.Infow("[SuccessorService] 批量替代关系已创建", "created", res.CreatedCount, "skipped", res.SkippedCount)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventSuccessorWritten, Count: res.CreatedCount})
	return res, nil
}

// hintFingerprint 由排序后的来源和目标 ID 计算。
func hintFingerprint(sourceIDs, targetIDs []uint) string {
	sum := sha256.Sum256([]byte("s:" + repository.PathKey(sortIDs(sourceIDs)) + "|t:" + repository.PathKey(sortIDs(targetIDs))))
	return hex.EncodeToString(sum[:])
}

func (s *successorService) writeHint(ctx context.Context, sourceIDs, targetIDs []uint, note, createdBy string) (*model.BulkSuccessorResult, error) {
	fp := hintFingerprint(sourceIDs, targetIDs)
	if strings.TrimSpace(note) == "" {
		note = fmt.Sprintf("Allgemeine Referenz: %d Source-Node(s) → %d Target-Node(s)", len(sourceIDs), len(targetIDs))
	}

	res := &model.BulkSuccessorResult{Type: BulkResultHint, SourceCount: len(sourceIDs), TargetCount: len(targetIDs)}
	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		hint, err := repo.FindHintByFingerprint(ctx, fp)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			hint = &model.SuccessorHint{Fingerprint: fp, CreatedBy: createdBy}
			res.CreatedCount = 1
		case err != nil:
			return err
		default:
			res.UpdatedCount = 1
		}
		hint.SourceCount, hint.TargetCount = len(sourceIDs), len(targetIDs)
		hint.MigrationNote = note
		hint.ShowWarning = true
		hint.WarningSeverity = model.SeverityInfo
		if err := repo.SaveHint(ctx, hint, sourceIDs, targetIDs); err != nil {
			return err
		}
		id := hint.ID
		res.HintID = &id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write successor hint: %w", err)
	}
	verb := "created"
	if res.UpdatedCount > 0 {
		verb = "updated"
	}
	res.Message = fmt.Sprintf("hint %s: %s", verb, note)
	log.Infow("[SuccessorService] 替代提示已写入", "hint_id", *res.HintID, "sources", len(sourceIDs), "targets", len(targetIDs), "action", verb)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventHintWritten, EntityID: *res.HintID, Count: len(sourceIDs) + len(targetIDs)})
	return res, nil
}

func sourceTypeOf(n *model.Node) string {
	switch {
	case n.FullTypecode != nil && n.IsIntermediateCode:
		return model.SourceIntermediate
	case n.FullTypecode != nil:
		return model.SourceLeaf
	}
	return model.SourceNode
}

// normalizeSuccessor 校验枚举字段和目标，缺省值按节点类型补齐。
func (s *successorService) normalizeSuccessor(ctx context.Context, in *model.ProductSuccessor) error {
	src, err := s.nodes.FindByID(ctx, in.SourceNodeID)
	if err != nil {
		return notFound(err, "source node %d", in.SourceNodeID)
	}
	if in.TargetFullCode != nil {
		code := typecode.Reconstruct(typecode.Split(*in.TargetFullCode))
		if code == "" {
			in.TargetFullCode = nil
		} else {
			in.TargetFullCode = &code
		}
	}
	if (in.TargetNodeID == nil) == (in.TargetFullCode == nil) {
		return apperr.Validation("exactly one of target_node_id and target_full_code must be set")
	}
	if in.TargetNodeID != nil {
		if *in.TargetNodeID == in.SourceNodeID {
			return apperr.Validation("node %d cannot be its own successor", in.SourceNodeID)
		}
		if _, err := s.nodes.FindByID(ctx, *in.TargetNodeID); err != nil {
			return notFound(err, "target node %d", *in.TargetNodeID)
		}
	}
	if in.SourceType == "" {
		in.SourceType = sourceTypeOf(src)
	}
	if in.ReplacementType == "" {
		in.ReplacementType = model.ReplacementSuccessor
	}
	if in.WarningSeverity == "" {
		in.WarningSeverity = model.SeverityWarning
	}
	if !oneOf(in.SourceType, model.SourceNode, model.SourceLeaf, model.SourceIntermediate) {
		return apperr.Validation("invalid source_type %q", in.SourceType)
	}
	if !oneOf(in.ReplacementType, model.ReplacementSuccessor, model.ReplacementAlternative, model.ReplacementDeprecated) {
		return apperr.Validation("invalid replacement_type %q", in.ReplacementType)
	}
	if !oneOf(in.WarningSeverity, model.SeverityInfo, model.SeverityWarning, model.SeverityCritical) {
		return apperr.Validation("invalid warning_severity %q", in.WarningSeverity)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func (s *successorService) Create(ctx context.Context, in *model.ProductSuccessor) error {
	if err := s.normalizeSuccessor(ctx, in); err != nil {
		return err
	}
	in.ID = 0
	if err := s.repo.Create(ctx, in); err != nil {
		return fmt.Errorf("create successor: %w", err)
	}
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventSuccessorWritten, EntityID: in.ID, Count: 1})
	return nil
}

func (s *successorService) Update(ctx context.Context, id uint, in *model.ProductSuccessor) error {
	cur, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return notFound(err, "successor %d", id)
	}
	if err := s.normalizeSuccessor(ctx, in); err != nil {
		return err
	}
	in.ID = id
	in.CreatedAt = cur.CreatedAt
	if in.CreatedBy == "" {
		in.CreatedBy = cur.CreatedBy
	}
	if err := s.repo.Update(ctx, in); err != nil {
		return fmt.Errorf("update successor %d: %w", id, err)
	}
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventSuccessorWritten, EntityID: id, Count: 1})
	return nil
}

func (s *successorService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(err, "successor %d", id)
	}
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventSuccessorDeleted, EntityID: id})
	return nil
}

func (s *successorService) List(ctx context.Context, sourceNodeID *uint) ([]model.ProductSuccessor, error) {
	out, err := s.repo.List(ctx, sourceNodeID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.ProductSuccessor{}
	}
	return out, nil
}

// SuccessorFor 返回节点当前生效的替代信息，没有时回退到节点作为来源的提示。
func (s *successorService) SuccessorFor(ctx context.Context, nodeID uint) (*model.SuccessorInfo, error) {
	if _, err := s.nodes.FindByID(ctx, nodeID); err != nil {
		return nil, notFound(err, "node %d", nodeID)
	}
	return s.lookup(ctx, []uint{nodeID})
}

// SuccessorForProduct 先查完整类型码匹配的节点，再从路径最深处向上查所给节点。
func (s *successorService) SuccessorForProduct(ctx context.Context, fullCode string, nodeIDs []uint) (*model.SuccessorInfo, error) {
	code := typecode.Reconstruct(typecode.Split(fullCode))
	var order []uint
	if code != "" {
		matches, err := s.nodes.FindByFullTypecode(ctx, code)
		if err != nil {
			return nil, err
		}
		for _, n := range matches {
			order = append(order, n.ID)
		}
	}
	for i := len(nodeIDs) - 1; i >= 0; i-- {
		order = append(order, nodeIDs[i])
	}
	order = dedupe(order)
	if len(order) == 0 {
		return &model.SuccessorInfo{HasSuccessor: false}, nil
	}
	return s.lookup(ctx, order)
}

// lookup 按给定顺序查找第一个生效的替代关系；都没有时按同样顺序查找提示。
func (s *successorService) lookup(ctx context.Context, sourceIDs []uint) (*model.SuccessorInfo, error) {
	now := s.guard.now()
	for _, id := range sourceIDs {
		rows, err := s.repo.ActiveForSources(ctx, []uint{id}, now)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return s.infoFromRow(ctx, &rows[0]), nil
		}
	}
	for _, id := range sourceIDs {
		hint, err := s.repo.HintForSource(ctx, id)
		if err != nil {
			return nil, err
		}
		if hint != nil {
			return s.infoFromHint(ctx, id, hint), nil
		}
	}
	return &model.SuccessorInfo{HasSuccessor: false}, nil
}

func (s *successorService) infoFromRow(ctx context.Context, row *model.ProductSuccessor) *model.SuccessorInfo {
	info := &model.SuccessorInfo{
		HasSuccessor:      true,
		ID:                row.ID,
		SourceNodeID:      row.SourceNodeID,
		SourceType:        row.SourceType,
		TargetNodeID:      row.TargetNodeID,
		TargetFullCode:    row.TargetFullCode,
		TargetFamilyCode:  row.TargetFamilyCode,
		ReplacementType:   row.ReplacementType,
		MigrationNote:     row.MigrationNote,
		MigrationNoteEN:   row.MigrationNoteEN,
		WarningSeverity:   row.WarningSeverity,
		AllowOldSelection: row.AllowOldSelection,
	}
	if src, err := s.nodes.FindByID(ctx, row.SourceNodeID); err == nil {
		info.SourceCode = displayCode(src)
	}
	if row.TargetNodeID != nil {
		if dst, err := s.nodes.FindByID(ctx, *row.TargetNodeID); err == nil {
			info.TargetCode = displayCode(dst)
			info.TargetName = dst.Name
			info.TargetLabel = dst.Label
		}
	}
	return info
}

func (s *successorService) infoFromHint(ctx context.Context, sourceID uint, hint *model.SuccessorHint) *model.SuccessorInfo {
	id := hint.ID
	info := &model.SuccessorInfo{
		HasSuccessor:      true,
		HintID:            &id,
		SourceNodeID:      sourceID,
		ReplacementType:   model.ReplacementSuccessor,
		MigrationNote:     hint.MigrationNote,
		WarningSeverity:   hint.WarningSeverity,
		AllowOldSelection: true,
		TargetNodeIDs:     []uint{},
	}
	for _, m := range hint.Members {
		if m.Role == model.RoleTarget {
			info.TargetNodeIDs = append(info.TargetNodeIDs, m.NodeID)
		}
	}
	if src, err := s.nodes.FindByID(ctx, sourceID); err == nil {
		info.SourceCode = displayCode(src)
		info.SourceType = sourceTypeOf(src)
	}
	return info
}

// displayCode 优先返回完整类型码。
func displayCode(n *model.Node) string {
	if n.FullTypecode != nil {
		return *n.FullTypecode
	}
	return n.CodeValue()
}

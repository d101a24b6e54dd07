package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/log"
)

// KmatService 接口定义了完整配置路径到外部物料号的映射。
type KmatService interface {
	Upsert(ctx context.Context, in model.KmatInput, createdBy string) (*model.KmatReference, bool, error)
	Get(ctx context.Context, familyID uint, pathNodeIDs []uint) (*model.KmatReference, error)
	ListByFamily(ctx context.Context, familyID uint) ([]model.KmatReference, error)
	Delete(ctx context.Context, id uint) error
}

type kmatService struct {
	repo  repository.KmatRepository
	nodes repository.NodeRepository
	guard writeGuard
}

// NewKmatService 创建一个新的 KmatService 实例。
func NewKmatService(repo repository.KmatRepository, nodes repository.NodeRepository, publisher kafka.Publisher) KmatService {
	return &kmatService{repo: repo, nodes: nodes, guard: newWriteGuard(nil, publisher)}
}

// Upsert 校验路径属于产品族后按 (产品族, 路径) 创建或更新引用。返回值 created 表示是否新建。
func (s *kmatService) Upsert(ctx context.Context, in model.KmatInput, createdBy string) (*model.KmatReference, bool, error) {
	in.Reference = strings.TrimSpace(in.Reference)
	if in.Reference == "" {
		return nil, false, apperr.Validation("kmat_reference must not be empty")
	}
	if len(in.PathNodeIDs) == 0 {
		return nil, false, apperr.Validation("path_node_ids must not be empty")
	}
	fam, err := s.nodes.FindByID(ctx, in.FamilyID)
	if err != nil {
		return nil, false, notFound(err, "product family %d", in.FamilyID)
	}
	if fam.Level != 0 || fam.Code == nil {
		return nil, false, apperr.Validation("node %d is not a product family", in.FamilyID)
	}
	onPath, err := s.nodes.FilterDescendants(ctx, []uint{fam.ID}, in.PathNodeIDs)
	if err != nil {
		return nil, false, err
	}
	if len(onPath) != len(dedupe(in.PathNodeIDs)) {
		return nil, false, apperr.NotFound("path nodes outside family %s", fam.CodeValue())
	}

	raw, err := json.Marshal(in.PathNodeIDs)
	if err != nil {
		return nil, false, fmt.Errorf("encode path: %w", err)
	}
	ref := &model.KmatReference{
		FamilyID:     fam.ID,
		PathKey:      repository.PathKey(in.PathNodeIDs),
		PathNodeIDs:  datatypes.JSON(raw),
		FullTypecode: strings.TrimSpace(in.FullTypecode),
		Reference:    in.Reference,
		CreatedBy:    createdBy,
	}
	created, err := s.repo.Upsert(ctx, ref)
	if err != nil {
		return nil, false, fmt.Errorf("save kmat reference: %w", err)
	}
	log.Infow("[KmatService] KMAT 引用已保存", "id", ref.ID, "family", fam.CodeValue(), "created", created)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventKmatWritten, Family: fam.CodeValue(), EntityID: ref.ID, Payload: ref})
	return ref, created, nil
}

func (s *kmatService) Get(ctx context.Context, familyID uint, pathNodeIDs []uint) (*model.KmatReference, error) {
	if len(pathNodeIDs) == 0 {
		return nil, apperr.Validation("path_node_ids must not be empty")
	}
	key := repository.PathKey(pathNodeIDs)
	ref, err := s.repo.Find(ctx, familyID, key)
	if err != nil {
		return nil, notFound(err, "kmat reference for family %d path %s", familyID, key)
	}
	return ref, nil
}

func (s *kmatService) ListByFamily(ctx context.Context, familyID uint) ([]model.KmatReference, error) {
	out, err := s.repo.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.KmatReference{}
	}
	return out, nil
}

func (s *kmatService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(err, "kmat reference %d", id)
	}
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventKmatDeleted, EntityID: id})
	return nil
}

package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"variantenbaum-go/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func strp(s string) *string { return &s }

type treeBuilder struct {
	t    *testing.T
	repo NodeRepository
}

func (b treeBuilder) add(parent *model.Node, code string, level int) *model.Node {
	b.t.Helper()
	n := &model.Node{Code: strp(code), Level: level, Name: code}
	if parent != nil {
		n.ParentID = &parent.ID
	}
	require.NoError(b.t, b.repo.Create(context.Background(), n))
	return n
}

func (b treeBuilder) pattern(parent *model.Node, pattern string) *model.Node {
	b.t.Helper()
	n := &model.Node{Pattern: strp(pattern), Level: parent.Level, ParentID: &parent.ID}
	require.NoError(b.t, b.repo.Create(context.Background(), n))
	return n
}

func TestCreateMaintainsClosure(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepository(newTestDB(t), 0)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "BCC", 0)
	m1 := b.add(fam, "M1", 1)
	a := b.add(m1, "A", 2)

	d, err := repo.DepthBetween(ctx, fam.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, *d)

	self, err := repo.DepthBetween(ctx, a.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, self)
	assert.Equal(t, 0, *self)

	ok, err := repo.IsAncestor(ctx, a.ID, fam.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	report, err := repo.VerifyClosure(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 6, report.Actual)
}

func TestClosureMatchesBruteForceAfterInsertsAndDeletes(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepository(newTestDB(t), 3)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "FAM", 0)
	var mids []*model.Node
	for i := 0; i < 4; i++ {
		m := b.add(fam, fmt.Sprintf("M%d", i), 1)
		mids = append(mids, m)
		p := b.pattern(m, "2")
		for j := 0; j < 3; j++ {
			c := b.add(p, fmt.Sprintf("C%d", j), 2)
			b.add(c, "X", 3)
		}
	}

	_, err := repo.DeleteSubtree(ctx, mids[1].ID)
	require.NoError(t, err)
	b.add(mids[2], "LATE", 2)
	_, err = repo.DeleteSubtree(ctx, mids[3].ID)
	require.NoError(t, err)

	report, err := repo.VerifyClosure(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "missing=%v extra=%v wrong=%v", report.Missing, report.Extra, report.WrongDepth)
	assert.Equal(t, report.Expected, report.Actual)
}

func TestDeleteSubtreeWith500Descendants(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewNodeRepository(db, 0)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "FAM", 0)
	keep := b.add(fam, "KEEP", 1)
	root := b.add(fam, "DROP", 1)
	// 50 个中间节点，每个 9 个子节点：50 + 450 = 500 个后代
	for i := 0; i < 50; i++ {
		mid := b.add(root, fmt.Sprintf("M%02d", i), 2)
		for j := 0; j < 9; j++ {
			b.add(mid, fmt.Sprintf("L%d", j), 3)
		}
	}
	size, err := repo.SubtreeSize(ctx, root.ID)
	require.NoError(t, err)
	require.EqualValues(t, 501, size)

	var before int64
	require.NoError(t, db.Model(&model.Node{}).Count(&before).Error)

	deleted, err := repo.DeleteSubtree(ctx, root.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 501, deleted)

	var after, paths int64
	require.NoError(t, db.Model(&model.Node{}).Count(&after).Error)
	assert.Equal(t, before-501, after)
	require.NoError(t, db.Model(&model.NodePath{}).Count(&paths).Error)
	// FAM: 1 自身边; KEEP: 自身 + FAM
	assert.EqualValues(t, 3, paths)

	ok, err := repo.IsAncestor(ctx, fam.ID, keep.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteSubtreePurgesDependentRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewNodeRepository(db, 0)
	succ := NewSuccessorRepository(db)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "FAM", 0)
	old := b.add(fam, "OLD", 1)
	newer := b.add(fam, "NEW", 1)
	other := b.add(fam, "OTHER", 1)

	require.NoError(t, succ.Create(ctx, &model.ProductSuccessor{
		SourceNodeID: old.ID, SourceType: model.SourceNode, TargetNodeID: &newer.ID,
		ReplacementType: model.ReplacementSuccessor, WarningSeverity: model.SeverityWarning, ShowWarning: true,
	}))
	hint := &model.SuccessorHint{Fingerprint: "f", SourceCount: 2, TargetCount: 1, ShowWarning: true, WarningSeverity: model.SeverityInfo}
	require.NoError(t, succ.SaveHint(ctx, hint, []uint{old.ID, other.ID}, []uint{newer.ID}))
	require.NoError(t, NewLabelRepository(db).Replace(ctx, old.ID, []model.NodeLabel{{Title: "T", CodeSegment: strp("OLD")}}))

	_, err := repo.DeleteSubtree(ctx, old.ID)
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&model.ProductSuccessor{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&model.SuccessorHint{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&model.SuccessorHintNode{}).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, db.Model(&model.NodeLabel{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestDeleteSubtreeUnknownNode(t *testing.T) {
	repo := NewNodeRepository(newTestDB(t), 0)
	_, err := repo.DeleteSubtree(context.Background(), 42)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestChildrenPassThroughPatternContainers(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepository(newTestDB(t), 0)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "FAM", 0)
	p3 := b.pattern(fam, "3")
	p4 := b.pattern(fam, "4")
	abc := b.add(p3, "ABC", 1)
	b.add(p4, "ABCD", 1)
	b.add(abc, "X", 2)

	kids, err := repo.Children(ctx, fam.ID, 1)
	require.NoError(t, err)
	codes := []string{}
	for _, k := range kids {
		codes = append(codes, k.CodeValue())
	}
	assert.ElementsMatch(t, []string{"ABC", "ABCD"}, codes)

	rows, err := repo.Candidates(ctx, fam.ID, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NotNil(t, r.ParentPattern)
		assert.Equal(t, fmt.Sprint(len(r.CodeValue())), *r.ParentPattern)
	}
}

func TestFilterDescendantsAndAncestors(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepository(newTestDB(t), 1)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "BCC", 0)
	m1 := b.add(fam, "M1", 1)
	m2 := b.add(fam, "M2", 1)
	a1 := b.add(m1, "A", 2)
	a2 := b.add(m2, "A", 2)

	got, err := repo.FilterDescendants(ctx, []uint{m1.ID}, []uint{a2.ID, a1.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{a1.ID}, got)

	got, err = repo.FilterAncestors(ctx, []uint{a2.ID}, []uint{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Equal(t, []uint{m2.ID}, got)

	got, err = repo.FilterDescendants(ctx, nil, []uint{a1.ID})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAncestorCodesAndDescendantsAtLevel(t *testing.T) {
	ctx := context.Background()
	repo := NewNodeRepository(newTestDB(t), 0)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "BCC", 0)
	m1 := b.add(fam, "M313", 1)
	p := b.pattern(m1, "2")
	a := b.add(p, "OP", 2)

	codes, err := repo.AncestorCodes(ctx, []uint{a.ID}, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "BCC", 1: "M313"}, codes[a.ID])

	nodes, err := repo.DescendantsAtLevel(ctx, []uint{fam.ID}, 2, "OP")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, a.ID, nodes[0].ID)

	fo, err := repo.FamilyOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, fam.ID, fo.ID)
}

func TestRebuildClosureRepairsIndex(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewNodeRepository(db, 0)
	b := treeBuilder{t, repo}

	fam := b.add(nil, "FAM", 0)
	m := b.add(fam, "M", 1)
	b.add(m, "A", 2)

	require.NoError(t, db.Where("ancestor_id = ? AND depth > 0", fam.ID).Delete(&model.NodePath{}).Error)
	report, err := repo.VerifyClosure(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Missing, 2)

	n, err := repo.RebuildClosure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	report, err = repo.VerifyClosure(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestDeriveClosureDetectsCycle(t *testing.T) {
	one, two := uint(1), uint(2)
	_, err := DeriveClosure(map[uint]*uint{1: &two, 2: &one})
	assert.Error(t, err)

	paths, err := DeriveClosure(map[uint]*uint{1: nil, 2: &one})
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

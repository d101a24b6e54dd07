package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/kafka"
)

type bulkTree struct {
	fam, m1, m22, a1, b22, a1b, cx *model.Node
}

// newBulkTree 构造 BCC → {M1 → {A1, B22}, M22 → {A1, CX}}。
func newBulkTree(f *fixture) bulkTree {
	var b bulkTree
	b.fam = f.family("BCC")
	b.m1 = f.add(b.fam, "M1")
	b.m22 = f.add(b.fam, "M22")
	b.a1 = f.add(b.m1, "A1", withName("Alpha"), withGroup("Sensor"))
	b.b22 = f.add(b.m1, "B22", withName("Beta"), withFull("BCC M1-B22"))
	b.a1b = f.add(b.m22, "A1", withName("Alpha zwei"))
	b.cx = f.add(b.m22, "CX", withName("Gamma"), withGroup("Aktor"))
	return b
}

func compatibility(res *model.BulkFilterResult) map[string]bool {
	out := make(map[string]bool, len(res.Nodes))
	for _, n := range res.Nodes {
		out[n.Code] = n.IsCompatible
	}
	return out
}

func TestBulkFilterCodeConditionsOnlyMarkIncompatible(t *testing.T) {
	f := newFixture(t)
	newBulkTree(f)

	res, err := f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "bcc"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, map[string]bool{"A1": true, "B22": true, "CX": true}, compatibility(res))
	assert.Equal(t, "A1", res.Nodes[0].Code)
	assert.Len(t, res.Nodes[0].IDs, 2)

	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC", CodePrefix: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, map[string]bool{"A1": true, "B22": false, "CX": false}, compatibility(res))

	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC", Pattern: "3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": false, "B22": true, "CX": false}, compatibility(res))

	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC",
		CodeContent: &model.CodeContent{Position: intp(2), Value: "2"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": false, "B22": true, "CX": false}, compatibility(res))

	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC",
		AllowedPattern: &model.AllowedPattern{From: 1, To: intp(2), Allowed: "alphabetic"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": false, "B22": false, "CX": true}, compatibility(res))
}

func TestBulkFilterHardFilters(t *testing.T) {
	f := newFixture(t)
	b := newBulkTree(f)

	res, err := f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC", Name: "BETA"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "B22", res.Nodes[0].Code)

	// 一个节点满足即保留整个代码
	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC", GroupName: "Sensor"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "A1", res.Nodes[0].Code)
	assert.ElementsMatch(t, []uint{b.a1.ID, b.a1b.ID}, res.Nodes[0].IDs)
}

func TestBulkFilterParentLevels(t *testing.T) {
	f := newFixture(t)
	newBulkTree(f)

	res, err := f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC",
		ParentLevelOptions: map[int][]string{1: {"m2*"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": true, "B22": false, "CX": true}, compatibility(res))

	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC",
		ParentLevelOptions: map[int][]string{1: {"M1"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": true, "B22": true, "CX": false}, compatibility(res))

	res, err = f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC",
		ParentLevelPatterns: map[int]model.LevelPatternSpec{1: {Length: "3", Type: "alphanumeric"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": true, "B22": false, "CX": true}, compatibility(res))
}

func TestBulkFilterPathFilter(t *testing.T) {
	f := newFixture(t)
	b := newBulkTree(f)

	res, err := f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "BCC",
		ApplyPathFilter: true,
		Selections:      []model.Selection{sel(b.fam), sel(b.m1)},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A1": true, "B22": true, "CX": false}, compatibility(res))
	assert.Equal(t, []uint{b.a1.ID}, res.Nodes[0].IDs)
}

func TestBulkFilterValidation(t *testing.T) {
	f := newFixture(t)
	newBulkTree(f)

	cases := []model.BulkFilter{
		{Level: 2},
		{Level: -1, FamilyCode: "BCC"},
		{Level: 2, FamilyCode: "BCC", Pattern: "x"},
		{Level: 2, FamilyCode: "BCC", ParentLevelOptions: map[int][]string{2: {"A"}}},
		{Level: 2, FamilyCode: "BCC", ParentLevelOptions: map[int][]string{1: {}}},
		{Level: 2, FamilyCode: "BCC", ParentLevelPatterns: map[int]model.LevelPatternSpec{1: {Length: "2", Type: "greek"}}},
		{Level: 2, FamilyCode: "BCC", AllowedPattern: &model.AllowedPattern{From: 3, To: intp(1)}},
		{Level: 2, FamilyCode: "BCC", CodeContent: &model.CodeContent{Position: intp(0), Value: "A"}},
	}
	for i, c := range cases {
		_, err := f.bulk.Filter(f.ctx, c)
		assert.ErrorIs(t, err, apperr.ErrValidation, "case %d", i)
	}

	_, err := f.bulk.Filter(f.ctx, model.BulkFilter{Level: 2, FamilyCode: "NOPE"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBulkUpdate(t *testing.T) {
	f := newFixture(t)
	b := newBulkTree(f)

	n, err := f.bulk.Update(f.ctx, []uint{b.a1.ID, b.cx.ID, b.a1.ID}, model.BulkUpdateFields{
		AppendName:      strp("neu"),
		GroupName:       strp("Optik"),
		AppendGroupName: strp("ignoriert"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	a1, err := f.tree.GetNode(f.ctx, b.a1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha neu", a1.Name)
	assert.Equal(t, "Optik", a1.GroupName)
	cx, err := f.tree.GetNode(f.ctx, b.cx.ID)
	require.NoError(t, err)
	assert.Equal(t, "Gamma neu", cx.Name)

	_, err = f.bulk.Update(f.ctx, []uint{b.b22.ID}, model.BulkUpdateFields{Label: strp("Option: B22 = Beta neu")})
	require.NoError(t, err)
	labels, err := repository.NewLabelRepository(f.db).CodedByNode(f.ctx, b.b22.ID)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "B22", *labels[0].CodeSegment)
	assert.Equal(t, 8, *labels[0].PositionStart)
	assert.Equal(t, "Beta neu", labels[0].LabelDE)

	_, err = f.bulk.Update(f.ctx, []uint{b.b22.ID}, model.BulkUpdateFields{AppendLabel: strp("Hinweis: Auslaufmodell")})
	require.NoError(t, err)
	b22, err := f.tree.GetNode(f.ctx, b.b22.ID)
	require.NoError(t, err)
	assert.Equal(t, "Option: B22 = Beta neu\n\nHinweis: Auslaufmodell", b22.Label)

	assert.Contains(t, f.events.types(), kafka.EventNodesUpdated)
}

func TestBulkUpdateIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	b := newBulkTree(f)

	_, err := f.bulk.Update(f.ctx, []uint{b.a1.ID, 999}, model.BulkUpdateFields{Name: strp("X")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	a1, err := f.tree.GetNode(f.ctx, b.a1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", a1.Name)

	_, err = f.bulk.Update(f.ctx, nil, model.BulkUpdateFields{Name: strp("X")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.bulk.Update(f.ctx, []uint{b.a1.ID}, model.BulkUpdateFields{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

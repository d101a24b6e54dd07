package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
)

// variantTree 构造 BCC → {M1 → A, M2 → {A, B}}。
type variantTree struct {
	fam, m1, m2, a1, a2, b2 *model.Node
}

func newVariantTree(f *fixture) variantTree {
	var v variantTree
	v.fam = f.family("BCC")
	v.m1 = f.add(v.fam, "M1", withPosition(1))
	v.m2 = f.add(v.fam, "M2", withPosition(2))
	v.a1 = f.add(v.m1, "A", withLabel("Ausführung eins"), withGroup("G1"), withName("Alpha"))
	v.a2 = f.add(v.m2, "A", withLabel("Ausführung zwei"), withGroup("G2"), withName("Alpha"))
	v.b2 = f.add(v.m2, "B", withGroup("G2"), withName("Beta"))
	return v
}

func TestResolveKeepsOnlyIDsOnSelectedPath(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.fam), sel(v.m1)},
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)

	assert.Equal(t, "A", opts[0].Code)
	assert.True(t, opts[0].IsCompatible)
	assert.Equal(t, []uint{v.a1.ID}, opts[0].IDs)
	assert.Equal(t, v.a1.ID, opts[0].ID)
	assert.Equal(t, "Ausführung eins", opts[0].Label)
	assert.True(t, opts[0].ConstraintValid)

	assert.Equal(t, "B", opts[1].Code)
	assert.False(t, opts[1].IsCompatible)
	assert.Equal(t, []uint{v.b2.ID}, opts[1].IDs)
}

func TestResolveIsIndependentOfSelectionOrder(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	forward, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.fam), sel(v.m2)},
	})
	require.NoError(t, err)
	backward, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.m2), sel(v.fam)},
	})
	require.NoError(t, err)
	assert.Equal(t, forward, backward)

	a := optionByCode(forward, "A")
	require.NotNil(t, a)
	assert.Equal(t, []uint{v.a2.ID}, a.IDs)
	assert.True(t, optionByCode(forward, "B").IsCompatible)
}

func TestResolveUpwardFromDeeperSelection(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        1,
		PreviousSelections: []model.Selection{sel(v.fam), sel(v.b2)},
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "M2", opts[0].Code)
	assert.True(t, opts[0].IsCompatible)
	assert.Equal(t, "M1", opts[1].Code)
	assert.False(t, opts[1].IsCompatible)

	// 同一代码在多个路径上时，所有 ID 都参与判断
	opts, err = f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        1,
		PreviousSelections: []model.Selection{sel(v.fam), sel(v.a1, v.a1.ID, v.a2.ID)},
	})
	require.NoError(t, err)
	assert.True(t, optionByCode(opts, "M1").IsCompatible)
	assert.True(t, optionByCode(opts, "M2").IsCompatible)
}

func TestResolveAggregatesSharedCodes(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.fam)},
	})
	require.NoError(t, err)
	a := optionByCode(opts, "A")
	require.NotNil(t, a)
	assert.True(t, a.IsCompatible)
	assert.ElementsMatch(t, []uint{v.a1.ID, v.a2.ID}, a.IDs)
	assert.Equal(t, "Ausführung eins\n---\nAusführung zwei", a.Label)
	assert.Equal(t, "Alpha", a.Name)
	assert.Equal(t, "G1, G2", a.GroupName)
}

func TestResolveLegacySingleID(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	id := v.m1.ID
	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel: 2,
		PreviousSelections: []model.Selection{
			{Level: 0, ID: &v.fam.ID},
			{Code: "M1", Level: 1, ID: &id},
		},
	})
	require.NoError(t, err)
	assert.True(t, optionByCode(opts, "A").IsCompatible)
	assert.False(t, optionByCode(opts, "B").IsCompatible)
}

func TestResolveGroupFilter(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        1,
		PreviousSelections: []model.Selection{sel(v.fam)},
		GroupFilter:        "G1",
	})
	require.NoError(t, err)
	assert.True(t, optionByCode(opts, "M1").IsCompatible)
	assert.False(t, optionByCode(opts, "M2").IsCompatible)
}

func TestResolveAnnotatesConstraintViolations(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	rule := &model.Constraint{
		Level:       2,
		Mode:        model.ModeDeny,
		Description: "A nicht mit M2",
		Conditions:  []model.ConstraintCondition{{ConditionType: model.ConditionExactCode, TargetLevel: 1, Value: "M2"}},
		Codes:       []model.ConstraintCode{{CodeType: model.CodeTypeSingle, CodeValue: "A"}},
	}
	require.NoError(t, f.constraints.Create(f.ctx, rule))

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.fam), sel(v.m2)},
	})
	require.NoError(t, err)
	a := optionByCode(opts, "A")
	require.NotNil(t, a)
	assert.True(t, a.IsCompatible)
	assert.False(t, a.ConstraintValid)
	require.Len(t, a.ViolatedConstraints, 1)
	assert.Equal(t, rule.ID, a.ViolatedConstraints[0].ID)
	assert.True(t, optionByCode(opts, "B").ConstraintValid)

	opts, err = f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.fam), sel(v.m1)},
	})
	require.NoError(t, err)
	assert.True(t, optionByCode(opts, "A").ConstraintValid)
}

func TestResolveSortsByParentPattern(t *testing.T) {
	f := newFixture(t)
	fam := f.family("BCC")
	p3 := f.pattern(fam, "3")
	p2 := f.pattern(fam, "2")
	f.add(p3, "X11")
	f.add(p2, "Y1")

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        1,
		PreviousSelections: []model.Selection{sel(fam)},
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "Y1", opts[0].Code)
	require.NotNil(t, opts[0].ParentPattern)
	assert.Equal(t, "2", *opts[0].ParentPattern)
	assert.Equal(t, "X11", opts[1].Code)
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	_, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{sel(v.m1)},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        1,
		PreviousSelections: []model.Selection{{Code: "XYZ", Level: 0}},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        1,
		PreviousSelections: []model.Selection{{Level: 0, IDs: []uint{v.m1.ID}}},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	opts, err := f.resolver.Resolve(f.ctx, model.OptionsQuery{
		TargetLevel:        7,
		PreviousSelections: []model.Selection{sel(v.fam)},
	})
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestSearchFiltersResolvedOptions(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)
	f.add(v.m1, "CC1", withLabel("Kabel"))

	base := model.OptionsQuery{TargetLevel: 2, PreviousSelections: []model.Selection{sel(v.fam)}}

	opts, err := f.resolver.Search(f.ctx, model.OptionsSearch{OptionsQuery: base, Pattern: intp(3)})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "CC1", opts[0].Code)

	opts, err = f.resolver.Search(f.ctx, model.OptionsSearch{OptionsQuery: base, CodePrefix: "b"})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "B", opts[0].Code)

	opts, err = f.resolver.Search(f.ctx, model.OptionsSearch{OptionsQuery: base, LabelSearch: "ZWEI"})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "A", opts[0].Code)

	_, err = f.resolver.Search(f.ctx, model.OptionsSearch{OptionsQuery: base, Pattern: intp(-1)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDerivedGroupName(t *testing.T) {
	f := newFixture(t)
	v := newVariantTree(f)

	res, err := f.resolver.DerivedGroupName(f.ctx, []model.Selection{sel(v.fam), sel(v.m2)})
	require.NoError(t, err)
	assert.True(t, res.IsUnique)
	require.NotNil(t, res.GroupName)
	assert.Equal(t, "G2", *res.GroupName)

	res, err = f.resolver.DerivedGroupName(f.ctx, []model.Selection{sel(v.fam)})
	require.NoError(t, err)
	assert.False(t, res.IsUnique)
	assert.Nil(t, res.GroupName)
	assert.Equal(t, []string{"G1", "G2"}, res.PossibleGroupNames)

	res, err = f.resolver.DerivedGroupName(f.ctx, []model.Selection{{Code: "NOPE", Level: 0}})
	require.NoError(t, err)
	assert.Empty(t, res.PossibleGroupNames)
}

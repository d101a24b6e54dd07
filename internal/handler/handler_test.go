package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/lock"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	t *testing.T
	r *gin.Engine
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))

	pub := kafka.NoopPublisher{}
	tx := repository.NewTransactor(db)
	nodes := repository.NewNodeRepository(db, 100)
	labels := repository.NewLabelRepository(db)
	constraints, err := service.NewConstraintService(repository.NewConstraintRepository(db), "expand", pub)
	require.NoError(t, err)
	successors := service.NewSuccessorService(tx, repository.NewSuccessorRepository(db), nodes, pub)

	r := gin.New()
	RegisterRoutes(r, Services{
		Tree:        service.NewTreeService(tx, nodes, labels, lock.NewLocalLocker(time.Second), pub),
		Constraints: constraints,
		Resolver:    service.NewResolverService(nodes, constraints),
		Successors:  successors,
		Decoder:     service.NewDecoderService(nodes, successors),
		Bulk:        service.NewBulkService(tx, nodes, labels, pub),
		Kmat:        service.NewKmatService(repository.NewKmatRepository(db), nodes, pub),
	})
	return &apiFixture{t: t, r: r}
}

// do 发送请求并解析统一响应结构。
func (a *apiFixture) do(method, path string, body interface{}) (int, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (a *apiFixture) decode(env envelope, v interface{}) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(env.Data, v))
}

// node 通过 POST /api/nodes 创建节点，parent 为 nil 时创建产品族。
func (a *apiFixture) node(parent *model.Node, code string, extra map[string]interface{}) *model.Node {
	a.t.Helper()
	body := map[string]interface{}{"code": code, "name": code}
	if parent != nil {
		body["parent_id"] = parent.ID
	}
	for k, v := range extra {
		body[k] = v
	}
	status, env := a.do(http.MethodPost, "/api/nodes", body)
	require.Equal(a.t, http.StatusCreated, status, env.Message)
	var n model.Node
	a.decode(env, &n)
	return &n
}

// variantTree 构造 BCC → {M1 → A, M2 → {A, B}}。
func (a *apiFixture) variantTree() (fam, m1, m2, a1, a2, b2 *model.Node) {
	fam = a.node(nil, "BCC", map[string]interface{}{"name": "Barcode"})
	m1 = a.node(fam, "M1", map[string]interface{}{"position": 1})
	m2 = a.node(fam, "M2", map[string]interface{}{"position": 2})
	a1 = a.node(m1, "A", map[string]interface{}{"full_typecode": "BCC M1-A", "group_name": "G1"})
	a2 = a.node(m2, "A", map[string]interface{}{"full_typecode": "BCC M2-A", "group_name": "G2"})
	b2 = a.node(m2, "B", map[string]interface{}{"full_typecode": "BCC M2-B", "group_name": "G2"})
	return
}

func selection(n *model.Node) model.Selection {
	return model.Selection{Code: n.CodeValue(), Level: n.Level, IDs: []uint{n.ID}}
}

func TestHealthReportsCounts(t *testing.T) {
	a := newAPI(t)
	a.variantTree()

	status, env := a.do(http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, status)
	var body struct {
		Status     string `json:"status"`
		Database   string `json:"database"`
		TotalNodes int64  `json:"total_nodes"`
		TotalPaths int64  `json:"total_paths"`
	}
	a.decode(env, &body)
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "connected", body.Database)
	assert.EqualValues(t, 6, body.TotalNodes)
	// 6 条自身路径 + 5 条到 BCC + 3 条到 M1/M2
	assert.EqualValues(t, 14, body.TotalPaths)
}

func TestCreateNodeErrors(t *testing.T) {
	a := newAPI(t)
	fam := a.node(nil, "BCC", nil)
	a.node(fam, "M1", nil)

	status, env := a.do(http.MethodPost, "/api/nodes", map[string]interface{}{"parent_id": fam.ID, "code": "M1"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, http.StatusConflict, env.Code)

	status, _ = a.do(http.MethodPost, "/api/nodes", map[string]interface{}{"parent_id": 999, "code": "X"})
	assert.Equal(t, http.StatusNotFound, status)

	status, env = a.do(http.MethodPost, "/api/nodes", "{not json")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, env.Message, "无效的请求负载")

	status, _ = a.do(http.MethodGet, "/api/nodes/by-id/abc/children", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCreateNodeByParentCode(t *testing.T) {
	a := newAPI(t)
	fam := a.node(nil, "BCC", nil)
	m1 := a.node(fam, "M1", nil)

	status, env := a.do(http.MethodPost, "/api/nodes", map[string]interface{}{
		"family_code": "BCC", "parent_level": 1, "parent_code": "M1", "code": "Z",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var n model.Node
	a.decode(env, &n)
	require.NotNil(t, n.ParentID)
	assert.Equal(t, m1.ID, *n.ParentID)
	assert.Equal(t, 2, n.Level)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/nodes/by-id/%d/children", m1.ID), nil)
	require.Equal(t, http.StatusOK, status)
	var kids []model.Node
	a.decode(env, &kids)
	require.Len(t, kids, 1)
	assert.Equal(t, "Z", kids[0].CodeValue())
}

func TestResolveOptionsOverHTTP(t *testing.T) {
	a := newAPI(t)
	fam, m1, _, a1, _, b2 := a.variantTree()

	status, env := a.do(http.MethodPost, "/api/options", model.OptionsQuery{
		TargetLevel:        2,
		PreviousSelections: []model.Selection{selection(fam), selection(m1)},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var opts []model.AvailableOption
	a.decode(env, &opts)
	require.Len(t, opts, 2)
	assert.Equal(t, "A", opts[0].Code)
	assert.True(t, opts[0].IsCompatible)
	assert.Equal(t, []uint{a1.ID}, opts[0].IDs)
	assert.Equal(t, "B", opts[1].Code)
	assert.False(t, opts[1].IsCompatible)
	assert.Equal(t, []uint{b2.ID}, opts[1].IDs)
}

func TestConstraintValidateAndStrictMode(t *testing.T) {
	a := newAPI(t)
	a.variantTree()

	rule := model.Constraint{
		Level: 2,
		Mode:  model.ModeDeny,
		Conditions: []model.ConstraintCondition{
			{ConditionType: model.ConditionPrefix, TargetLevel: 1, Value: "M2"},
		},
		Codes: []model.ConstraintCode{{CodeType: model.CodeTypeSingle, CodeValue: "A"}},
	}
	status, env := a.do(http.MethodPost, "/api/constraints", rule)
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created model.Constraint
	a.decode(env, &created)
	require.NotZero(t, created.ID)

	req := ValidateRequest{Code: "A", Level: 2, PreviousSelections: map[int]string{0: "BCC", 1: "M2"}}
	status, env = a.do(http.MethodPost, "/api/constraints/validate", req)
	require.Equal(t, http.StatusOK, status)
	var res model.ValidationResult
	a.decode(env, &res)
	assert.False(t, res.IsValid)
	require.Len(t, res.ViolatedConstraints, 1)
	assert.Equal(t, created.ID, res.ViolatedConstraints[0].ID)

	status, env = a.do(http.MethodPost, "/api/constraints/validate?strict=true", req)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	var violation struct {
		Code          string `json:"code"`
		Level         int    `json:"level"`
		ConstraintIDs []uint `json:"constraint_ids"`
	}
	a.decode(env, &violation)
	assert.Equal(t, "A", violation.Code)
	assert.Equal(t, []uint{created.ID}, violation.ConstraintIDs)

	req.PreviousSelections[1] = "M1"
	status, _ = a.do(http.MethodPost, "/api/constraints/validate?strict=true", req)
	assert.Equal(t, http.StatusOK, status)

	status, env = a.do(http.MethodGet, "/api/constraints/level/2", nil)
	require.Equal(t, http.StatusOK, status)
	var rules []model.Constraint
	a.decode(env, &rules)
	assert.Len(t, rules, 1)

	status, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/constraints/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/constraints/%d", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = a.do(http.MethodPost, "/api/constraints/validate", map[string]interface{}{"level": 2})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDecodeAndSearchCodeOverHTTP(t *testing.T) {
	a := newAPI(t)
	_, _, m2, _, _, b2 := a.variantTree()

	status, env := a.do(http.MethodGet, "/api/nodes/decode/BCC%20M2-B", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	var res model.DecodeResult
	a.decode(env, &res)
	assert.True(t, res.Exists)
	assert.True(t, res.IsCompleteProduct)
	require.Len(t, res.PathSegments, 3)
	assert.Equal(t, m2.ID, res.PathSegments[1].NodeID)
	assert.Equal(t, b2.ID, res.PathSegments[2].NodeID)

	status, env = a.do(http.MethodGet, "/api/nodes/decode/XYZ", nil)
	require.Equal(t, http.StatusOK, status)
	a.decode(env, &res)
	assert.False(t, res.Exists)

	status, env = a.do(http.MethodGet, "/api/nodes/search-code/a", nil)
	require.Equal(t, http.StatusOK, status)
	var search model.CodeSearchResult
	a.decode(env, &search)
	assert.True(t, search.Exists)
	require.Len(t, search.Occurrences, 1)
	assert.Equal(t, 2, search.Occurrences[0].NodeCount)
}

func TestBulkFilterAndUpdateOverHTTP(t *testing.T) {
	a := newAPI(t)
	_, _, _, a1, a2, _ := a.variantTree()

	status, env := a.do(http.MethodPost, "/api/nodes/bulk-filter", model.BulkFilter{Level: 2, FamilyCode: "BCC", Code: "A"})
	require.Equal(t, http.StatusOK, status, env.Message)
	var res model.BulkFilterResult
	a.decode(env, &res)
	require.Equal(t, 2, res.Count)
	for _, opt := range res.Nodes {
		assert.Equal(t, opt.Code == "A", opt.IsCompatible, opt.Code)
	}

	name := "Neu"
	status, env = a.do(http.MethodPut, "/api/nodes/bulk-update", BulkUpdateRequest{
		NodeIDs: []uint{a1.ID, a2.ID},
		Updates: model.BulkUpdateFields{Name: &name},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var out struct {
		UpdatedCount int `json:"updated_count"`
	}
	a.decode(env, &out)
	assert.Equal(t, 2, out.UpdatedCount)

	status, _ = a.do(http.MethodPut, "/api/nodes/bulk-update", BulkUpdateRequest{NodeIDs: []uint{a1.ID}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSuccessorEndpoints(t *testing.T) {
	a := newAPI(t)
	_, _, _, a1, a2, b2 := a.variantTree()

	status, env := a.do(http.MethodPost, "/api/admin/successors/bulk", BulkSuccessorRequest{
		SourceIDs: []uint{a1.ID, a2.ID},
		TargetIDs: []uint{b2.ID},
		CreatedBy: "tester",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var bulk model.BulkSuccessorResult
	a.decode(env, &bulk)
	assert.Equal(t, "hint", bulk.Type)
	assert.Equal(t, 2, bulk.SourceCount)
	assert.Equal(t, 1, bulk.TargetCount)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/node/%d/successor", a1.ID), nil)
	require.Equal(t, http.StatusOK, status)
	var info model.SuccessorInfo
	a.decode(env, &info)
	assert.True(t, info.HasSuccessor)
	assert.NotNil(t, info.HintID)

	status, env = a.do(http.MethodPost, "/api/admin/successors", model.ProductSuccessor{
		SourceNodeID: b2.ID,
		TargetNodeID: &a1.ID,
		ShowWarning:  true,
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var row model.ProductSuccessor
	a.decode(env, &row)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/admin/successors?source_node_id=%d", b2.ID), nil)
	require.Equal(t, http.StatusOK, status)
	var rows []model.ProductSuccessor
	a.decode(env, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, row.ID, rows[0].ID)

	status, env = a.do(http.MethodPost, "/api/product/successor", ProductSuccessorRequest{Code: "BCC M2-B"})
	require.Equal(t, http.StatusOK, status)
	a.decode(env, &info)
	assert.True(t, info.HasSuccessor)
	require.NotNil(t, info.TargetNodeID)
	assert.Equal(t, a1.ID, *info.TargetNodeID)

	status, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/admin/successors/%d", row.ID), nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = a.do(http.MethodGet, "/api/admin/successors?source_node_id=x", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = a.do(http.MethodGet, "/api/node/999/successor", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestKmatReferenceEndpoints(t *testing.T) {
	a := newAPI(t)
	fam, m1, _, a1, _, _ := a.variantTree()

	req := KmatRequest{KmatInput: model.KmatInput{
		FamilyID:     fam.ID,
		PathNodeIDs:  []uint{fam.ID, m1.ID, a1.ID},
		FullTypecode: "BCC M1-A",
		Reference:    "KMAT-1",
	}}
	status, env := a.do(http.MethodPost, "/api/admin/kmat-references", req)
	require.Equal(t, http.StatusCreated, status, env.Message)

	req.Reference = "KMAT-2"
	status, _ = a.do(http.MethodPost, "/api/admin/kmat-references", req)
	require.Equal(t, http.StatusOK, status)

	path := fmt.Sprintf("/api/kmat-references?family_id=%d&path_node_ids=[%d,%d,%d]", fam.ID, fam.ID, m1.ID, a1.ID)
	status, env = a.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	var ref model.KmatReference
	a.decode(env, &ref)
	assert.Equal(t, "KMAT-2", ref.Reference)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/kmat-references?family_id=%d", fam.ID), nil)
	require.Equal(t, http.StatusOK, status)
	var refs []model.KmatReference
	a.decode(env, &refs)
	assert.Len(t, refs, 1)

	status, _ = a.do(http.MethodGet, fmt.Sprintf("/api/kmat-references?family_id=%d&path_node_ids=oops", fam.ID), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/admin/kmat-references/%d", ref.ID), nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = a.do(http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeleteNodeSubtreeAndFamilyGuard(t *testing.T) {
	a := newAPI(t)
	fam, _, m2, _, _, _ := a.variantTree()

	status, env := a.do(http.MethodDelete, fmt.Sprintf("/api/admin/nodes/%d", m2.ID), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	var out struct {
		DeletedCount int64 `json:"deleted_count"`
	}
	a.decode(env, &out)
	assert.EqualValues(t, 3, out.DeletedCount)

	status, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/admin/nodes/%d", fam.ID), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = a.do(http.MethodDelete, fmt.Sprintf("/api/admin/nodes/%d", m2.ID), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFamilyEndpoints(t *testing.T) {
	a := newAPI(t)
	fam, m1, _, a1, _, _ := a.variantTree()

	status, env := a.do(http.MethodGet, "/api/product-families", nil)
	require.Equal(t, http.StatusOK, status)
	var fams []model.Node
	a.decode(env, &fams)
	require.Len(t, fams, 1)
	assert.Equal(t, "BCC", fams[0].CodeValue())

	status, env = a.do(http.MethodGet, "/api/product-families/BCC/groups", nil)
	require.Equal(t, http.StatusOK, status)
	var groups []string
	a.decode(env, &groups)
	assert.Equal(t, []string{"G1", "G2"}, groups)

	status, env = a.do(http.MethodPost, "/api/derived-group-name", DerivedGroupNameRequest{
		PreviousSelections: []model.Selection{selection(fam), selection(m1), selection(a1)},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var derived model.DerivedGroupName
	a.decode(env, &derived)
	require.NotNil(t, derived.GroupName)
	assert.Equal(t, "G1", *derived.GroupName)
}

func TestLookupHelpers(t *testing.T) {
	a := newAPI(t)
	_, m1, _, _, _, b2 := a.variantTree()

	status, env := a.do(http.MethodGet, "/api/nodes/suggest-codes?family_code=BCC&level=1&partial=m", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	var suggest struct {
		Suggestions []string `json:"suggestions"`
	}
	a.decode(env, &suggest)
	assert.Equal(t, []string{"M1", "M2"}, suggest.Suggestions)

	status, _ = a.do(http.MethodGet, "/api/nodes/suggest-codes?family_code=BCC", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var exists struct {
		Exists bool `json:"exists"`
	}
	status, env = a.do(http.MethodGet, "/api/nodes/check-code-exists?code=b&family_code=BCC&level=2", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	a.decode(env, &exists)
	assert.True(t, exists.Exists)

	status, env = a.do(http.MethodGet, fmt.Sprintf("/api/nodes/check-code-exists?code=B&level=2&parent_id=%d", m1.ID), nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	a.decode(env, &exists)
	assert.False(t, exists.Exists)

	status, env = a.do(http.MethodPost, "/api/nodes/by-path/find-id", model.PathLookup{
		Code: "B", Level: 2, FamilyCode: "BCC", ParentCodes: []string{"M2"},
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var found model.PathLookupResult
	a.decode(env, &found)
	require.True(t, found.Found)
	assert.Equal(t, b2.ID, *found.NodeID)

	status, env = a.do(http.MethodGet, "/api/product-families/BCC/groups/G2/max-level", nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	var maxLevel struct {
		MaxLevel int `json:"max_level"`
	}
	a.decode(env, &maxLevel)
	assert.Equal(t, 2, maxLevel.MaxLevel)

	status, _ = a.do(http.MethodGet, "/api/product-families/XYZ/groups/G2/max-level", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

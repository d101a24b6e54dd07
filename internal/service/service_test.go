package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/lock"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev kafka.ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	t           *testing.T
	ctx         context.Context
	db          *gorm.DB
	nodes       repository.NodeRepository
	tree        TreeService
	constraints ConstraintService
	resolver    ResolverService
	successors  SuccessorService
	decoder     DecoderService
	bulk        BulkService
	kmat        KmatService
	events      *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))

	pub := &recordingPublisher{}
	tx := repository.NewTransactor(db)
	nodes := repository.NewNodeRepository(db, 2)
	labels := repository.NewLabelRepository(db)
	constraints, err := NewConstraintService(repository.NewConstraintRepository(db), "expand", pub)
	require.NoError(t, err)
	successors := NewSuccessorService(tx, repository.NewSuccessorRepository(db), nodes, pub)

	return &fixture{
		t:           t,
		ctx:         context.Background(),
		db:          db,
		nodes:       nodes,
		tree:        NewTreeService(tx, nodes, labels, lock.NewLocalLocker(time.Second), pub),
		constraints: constraints,
		resolver:    NewResolverService(nodes, constraints),
		successors:  successors,
		decoder:     NewDecoderService(nodes, successors),
		bulk:        NewBulkService(tx, nodes, labels, pub),
		kmat:        NewKmatService(repository.NewKmatRepository(db), nodes, pub),
		events:      pub,
	}
}

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

// family 创建一个产品族节点。
func (f *fixture) family(code string, opts ...func(*model.NodeInput)) *model.Node {
	f.t.Helper()
	in := model.NodeInput{Code: strp(code), Name: code}
	for _, o := range opts {
		o(&in)
	}
	n, err := f.tree.Insert(f.ctx, in)
	require.NoError(f.t, err)
	return n
}

// add 在 parent 下创建一个代码节点。
func (f *fixture) add(parent *model.Node, code string, opts ...func(*model.NodeInput)) *model.Node {
	f.t.Helper()
	in := model.NodeInput{ParentID: &parent.ID, Code: strp(code), Name: code}
	for _, o := range opts {
		o(&in)
	}
	n, err := f.tree.Insert(f.ctx, in)
	require.NoError(f.t, err)
	return n
}

// pattern 在 parent 下创建一个模式容器。
func (f *fixture) pattern(parent *model.Node, p string) *model.Node {
	f.t.Helper()
	n, err := f.tree.Insert(f.ctx, model.NodeInput{ParentID: &parent.ID, Pattern: strp(p)})
	require.NoError(f.t, err)
	return n
}

func withLabel(label string) func(*model.NodeInput) {
	return func(in *model.NodeInput) { in.Label = label }
}

func withGroup(group string) func(*model.NodeInput) {
	return func(in *model.NodeInput) { in.GroupName = group }
}

func withFull(code string) func(*model.NodeInput) {
	return func(in *model.NodeInput) { in.FullTypecode = strp(code) }
}

func withName(name string) func(*model.NodeInput) {
	return func(in *model.NodeInput) { in.Name = name }
}

func withPosition(pos int) func(*model.NodeInput) {
	return func(in *model.NodeInput) { in.Position = pos }
}

func sel(n *model.Node, ids ...uint) model.Selection {
	if len(ids) == 0 {
		ids = []uint{n.ID}
	}
	return model.Selection{Code: n.CodeValue(), Level: n.Level, IDs: ids}
}

func optionByCode(opts []model.AvailableOption, code string) *model.AvailableOption {
	for i := range opts {
		if opts[i].Code == code {
			return &opts[i]
		}
	}
	return nil
}

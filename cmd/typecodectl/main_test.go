package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

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

func newTestTree(t *testing.T) (*gorm.DB, service.TreeService) {
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

	tree := service.NewTreeService(repository.NewTransactor(db), repository.NewNodeRepository(db, 100),
		repository.NewLabelRepository(db), lock.NewLocalLocker(time.Second), kafka.NoopPublisher{})
	return db, tree
}

func run(t *testing.T, tree service.TreeService, args ...string) (string, error) {
	t.Helper()
	var configPath string
	root := newRootCmd(&configPath, func() (service.TreeService, error) { return tree, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestImportVerifyAndRebuild(t *testing.T) {
	db, tree := newTestTree(t)

	path := filepath.Join(t.TempDir(), "bcc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"code":"BCC","children":[{"code":"M1","children":[{"code":"A"}]}]}`), 0o644))

	out, err := run(t, tree, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 node(s)")

	out, err = run(t, tree, "verify-closure")
	require.NoError(t, err)
	assert.Contains(t, out, "closure index OK")

	// 删除一条祖先边，制造闭包不一致
	require.NoError(t, db.Where("depth = ?", 2).Delete(&model.NodePath{}).Error)
	out, err = run(t, tree, "verify-closure")
	assert.ErrorIs(t, err, errClosureDrift)
	assert.Contains(t, out, "missing: 1")

	out, err = run(t, tree, "rebuild-closure")
	require.NoError(t, err)
	assert.Contains(t, out, "rebuilt 6 closure rows")

	_, err = run(t, tree, "verify-closure")
	assert.NoError(t, err)
}

func TestImportBelowParent(t *testing.T) {
	_, tree := newTestTree(t)
	dir := t.TempDir()

	fam := filepath.Join(dir, "fam.json")
	require.NoError(t, os.WriteFile(fam, []byte(`[{"code":"BCC"}]`), 0o644))
	_, err := run(t, tree, "import", fam)
	require.NoError(t, err)

	fams, err := tree.Families(context.Background())
	require.NoError(t, err)
	require.Len(t, fams, 1)

	sub := filepath.Join(dir, "sub.json")
	require.NoError(t, os.WriteFile(sub, []byte(`[{"code":"M1"},{"code":"M2"}]`), 0o644))
	out, err := run(t, tree, "import", "--parent", strconv.FormatUint(uint64(fams[0].ID), 10), sub)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 node(s)")

	kids, err := tree.Children(context.Background(), fams[0].ID)
	require.NoError(t, err)
	assert.Len(t, kids, 2)

	_, err = run(t, tree, "import")
	assert.Error(t, err)
	_, err = run(t, tree, "import", filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
